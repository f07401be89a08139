// Package store persists the sync protocol's server-side mirror (§3 of
// SPEC_FULL.md) in Postgres: one dataset_generations row per user, an
// append-only sync_operations log, and a sync_clients cursor table.
package store

import (
	"encoding/json"
	"time"
)

// SyncOperation is one row of the append-only operation log. Payload is
// never interpreted server-side; it is the opaque bytes spec.md §6
// passes through untouched.
type SyncOperation struct {
	UserID     string
	Scope      string
	ResourceID string
	Actor      string
	Clock      int64
	Payload    json.RawMessage
	ServerSeq  int64
	CreatedAt  time.Time
}

// DatasetGeneration is the per-user row tracking the active generation
// key and the server_seq high-water mark it has been pushed to.
type DatasetGeneration struct {
	UserID          string
	GenerationKey   string
	ServerSeq       int64
	SnapshotBlobRef *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SyncClient is one device's last-acked cursor, used to bound how far
// DeleteOldOperations may safely compact the log.
type SyncClient struct {
	UserID       string
	ClientID     string
	LastAckedSeq int64
	UpdatedAt    time.Time
}
