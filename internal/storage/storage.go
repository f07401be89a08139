// Package storage defines the durable, transactional local storage
// contract the repository, hydrator, and sync engine all depend on, plus
// a production bbolt-backed implementation and an in-memory test double.
package storage

import (
	"context"
	"time"
)

// OpRecord is one persisted operation, keyed by (Clock, Actor) to make
// rewrites idempotent on retry. Data is the codec-encoded operation.
type OpRecord struct {
	Clock int64
	Actor string
	Data  []byte
}

// ListState is one list's persisted snapshot plus its trailing
// operations not yet folded into that snapshot.
type ListState struct {
	ListID     string
	State      []byte // codec-encoded snapshot; nil if the list has never been snapshotted
	Operations []OpRecord
	UpdatedAt  time.Time
}

// RegistryState mirrors ListState for the registry.
type RegistryState struct {
	State      []byte
	Operations []OpRecord
	UpdatedAt  time.Time
}

// SyncState is the sync engine's durable cursor.
type SyncState struct {
	ClientID             string
	LastServerSeq        int64
	DatasetGenerationKey string
}

// OutboxEntry is one envelope awaiting push, kept in FIFO order.
type OutboxEntry struct {
	Scope      string
	ResourceID string
	Actor      string
	Clock      int64
	Payload    []byte
}

// DedupeKey identifies an OutboxEntry/envelope for at-least-once delivery.
func (e OutboxEntry) DedupeKey() string {
	return e.Scope + "|" + e.ResourceID + "|" + e.Actor + "|" + itoa(e.Clock)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Adapter is the durable, transactional local storage contract. Every
// method that can mutate state is a single atomic write group scoped to
// either one list, the registry, or the sync state/outbox pair — never
// spanning more than one of those at a time.
type Adapter interface {
	LoadAllLists(ctx context.Context) ([]ListState, error)
	LoadList(ctx context.Context, listID string) (ListState, bool, error)
	LoadRegistry(ctx context.Context) (RegistryState, error)

	// PersistOperations appends ops to listID's op log. When snapshot is
	// non-nil, the write instead atomically replaces listID's state with
	// snapshot and deletes every previously recorded operation for it.
	PersistOperations(ctx context.Context, listID string, ops []OpRecord, snapshot []byte) error
	// PersistRegistry mirrors PersistOperations for the registry.
	PersistRegistry(ctx context.Context, ops []OpRecord, snapshot []byte) error

	PruneOperations(ctx context.Context, listID string, beforeClock int64) error
	PruneRegistryOperations(ctx context.Context, beforeClock int64) error

	LoadSyncState(ctx context.Context) (SyncState, error)
	PersistSyncState(ctx context.Context, state SyncState) error

	LoadOutbox(ctx context.Context) ([]OutboxEntry, error)
	PersistOutbox(ctx context.Context, entries []OutboxEntry) error

	// Get/Put satisfy actor.KV, storing the stable actor id under a
	// fixed literal key in the same durable store.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error

	// Clear resets every store except the Get/Put key-value store, so the
	// stable actor id survives. Used on dataset-generation reset.
	Clear(ctx context.Context) error

	// Close releases any underlying file handle or connection.
	Close() error
}
