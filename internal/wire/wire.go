// Package wire defines the JSON shapes shared by the sync engine's HTTP
// client and the reference sync server's handlers, so neither side
// depends on the other's internal types.
package wire

import "encoding/json"

// Envelope wraps one CRDT operation for the opaque sync transport. The
// server never inspects Payload beyond the dedupe tuple
// (Actor, Clock, Scope, ResourceID).
type Envelope struct {
	Scope      string          `json:"scope"`
	ResourceID string          `json:"resourceId"`
	Actor      string          `json:"actor"`
	Clock      int64           `json:"clock"`
	Payload    json.RawMessage `json:"payload"`
	ServerSeq  *int64          `json:"serverSeq,omitempty"`
}

// Scope values for Envelope.Scope.
const (
	ScopeRegistry = "registry"
	ScopeList     = "list"
)

// BootstrapResponse answers GET /sync/bootstrap.
type BootstrapResponse struct {
	DatasetGenerationKey string          `json:"datasetGenerationKey"`
	SnapshotBlob         json.RawMessage `json:"snapshotBlob,omitempty"`
	ServerSeq            int64           `json:"serverSeq"`
	Ops                  []Envelope      `json:"ops"`
}

// PushRequest is the body of POST /sync/push.
type PushRequest struct {
	ClientID             string     `json:"clientId"`
	DatasetGenerationKey string     `json:"datasetGenerationKey"`
	Ops                  []Envelope `json:"ops"`
}

// PushResponse answers POST /sync/push.
type PushResponse struct {
	ServerSeq            int64  `json:"serverSeq"`
	DatasetGenerationKey string `json:"datasetGenerationKey"`
}

// PullResponse answers GET /sync/pull.
type PullResponse struct {
	ServerSeq            int64      `json:"serverSeq"`
	DatasetGenerationKey string     `json:"datasetGenerationKey"`
	Ops                  []Envelope `json:"ops"`
}

// ResetRequest is the body of POST /sync/reset.
type ResetRequest struct {
	ClientID             string          `json:"clientId"`
	DatasetGenerationKey string          `json:"datasetGenerationKey"`
	SnapshotBlob         json.RawMessage `json:"snapshotBlob"`
}

// ResetResponse answers POST /sync/reset.
type ResetResponse struct {
	DatasetGenerationKey string `json:"datasetGenerationKey"`
	ServerSeq            int64  `json:"serverSeq"`
}

// WakePing is the bare cross-replica notification carried over NATS and
// forwarded to a connected device over websocket; it never carries
// payload, only enough to tell the client to poll now.
type WakePing struct {
	UserID    string `json:"userId"`
	ServerSeq int64  `json:"serverSeq"`
}
