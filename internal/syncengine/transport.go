// Package syncengine drives the outbox-push/cursor-pull cycle against the
// reference sync server, folding remote operations into a repository and
// handling the dataset-generation reset handshake.
package syncengine

import (
	"context"
	"errors"

	"github.com/listsync/listsync/internal/wire"
)

// ErrDuplicateDedupeKey is returned by a Transport's Push when the server
// answers 409, which the reference server does when every envelope in the
// push carried a dedupe key it had already recorded.
// The engine treats this the same as an ordinary successful push: the
// envelopes are already durably recorded server-side, so draining them
// from the local outbox is correct either way.
var ErrDuplicateDedupeKey = errors.New("syncengine: duplicate dedupe key")

// Transport is the sync engine's view of the four endpoints spec.md §4.9
// consumes. An HTTP implementation is provided by NewHTTPTransport; tests
// supply a fake.
type Transport interface {
	Bootstrap(ctx context.Context, clientID, datasetGenerationKey string) (wire.BootstrapResponse, error)
	Push(ctx context.Context, req wire.PushRequest) (wire.PushResponse, error)
	Pull(ctx context.Context, clientID string, since int64, datasetGenerationKey string) (wire.PullResponse, error)
	Reset(ctx context.Context, req wire.ResetRequest) (wire.ResetResponse, error)
}
