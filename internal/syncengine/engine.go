package syncengine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/listsync/listsync/internal/repository"
	"github.com/listsync/listsync/internal/storage"
	"github.com/listsync/listsync/internal/wire"
)

// DefaultPollInterval is spec.md §4.9's recommended midpoint.
const DefaultPollInterval = 3 * time.Second

// RemoteOpsHandler is invoked after a batch of remote operations has been
// folded into the repository, once per pull/bootstrap response.
type RemoteOpsHandler func([]wire.Envelope)

// Engine drives the outbox-push/cursor-pull cycle for one repository
// instance. The zero value is not usable; construct with New.
type Engine struct {
	storage      storage.Adapter
	repo         *repository.Repository
	transport    Transport
	clientID     string
	pollInterval time.Duration
	onRemoteOps  RemoteOpsHandler

	// runMu serialises syncOnce: polling and a caller-triggered syncOnce
	// must never run concurrently on the same engine instance (§5).
	runMu sync.Mutex

	mu     sync.Mutex
	armed  bool
	cancel context.CancelFunc
}

// New constructs an Engine. pollInterval <= 0 uses DefaultPollInterval.
func New(st storage.Adapter, repo *repository.Repository, transport Transport, clientID string, pollInterval time.Duration, onRemoteOps RemoteOpsHandler) *Engine {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Engine{
		storage:      st,
		repo:         repo,
		transport:    transport,
		clientID:     clientID,
		pollInterval: pollInterval,
		onRemoteOps:  onRemoteOps,
	}
}

// Initialize bootstraps the engine against the server: it resolves the
// current dataset generation, applies any ops the bootstrap response
// carries, and runs the reset flow when the server's generation differs
// from (or there is none recorded in) local sync state. A bootstrap
// failure leaves the engine unarmed — Run/SyncOnce refuse to do
// anything — but does not touch the repository, which remains usable
// locally, per spec.md §4.9/§7.
func (e *Engine) Initialize(ctx context.Context) error {
	state, err := e.storage.LoadSyncState(ctx)
	if err != nil {
		return err
	}
	if state.ClientID == "" {
		state.ClientID = e.clientID
	}

	resp, err := e.transport.Bootstrap(ctx, e.clientID, state.DatasetGenerationKey)
	if err != nil {
		return err
	}

	if state.DatasetGenerationKey == "" || resp.DatasetGenerationKey != state.DatasetGenerationKey {
		if err := e.reset(ctx, resp.DatasetGenerationKey, resp.ServerSeq, resp.SnapshotBlob); err != nil {
			return err
		}
		e.mu.Lock()
		e.armed = true
		e.mu.Unlock()
		return nil
	}

	if len(resp.Ops) > 0 {
		if err := e.repo.ApplyRemoteOps(ctx, resp.Ops); err != nil {
			return err
		}
		if e.onRemoteOps != nil {
			e.onRemoteOps(resp.Ops)
		}
	}
	state.LastServerSeq = resp.ServerSeq
	if err := e.storage.PersistSyncState(ctx, state); err != nil {
		return err
	}

	e.mu.Lock()
	e.armed = true
	e.mu.Unlock()
	return nil
}

// Run starts polling SyncOnce at the configured interval until ctx is
// cancelled or Stop is called. It must be invoked from its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.SyncOnce(ctx); err != nil {
				log.Printf("syncengine: tick failed: %v", err)
			}
		}
	}
}

// Stop cancels a running Run loop. A no-op if Run was never called.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SyncOnce runs one push/pull cycle, per spec.md §4.9's four-step
// algorithm. It refuses to run before a successful Initialize, and
// serialises against any concurrent SyncOnce/Run tick on this instance.
func (e *Engine) SyncOnce(ctx context.Context) error {
	e.mu.Lock()
	armed := e.armed
	e.mu.Unlock()
	if !armed {
		return errors.New("syncengine: not initialized")
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	if err := e.pushOutbox(ctx); err != nil {
		return err
	}
	return e.pull(ctx)
}

// pushOutbox implements step 1.
func (e *Engine) pushOutbox(ctx context.Context) error {
	entries, err := e.storage.LoadOutbox(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	state, err := e.storage.LoadSyncState(ctx)
	if err != nil {
		return err
	}

	ops := make([]wire.Envelope, len(entries))
	for i, entry := range entries {
		ops[i] = wire.Envelope{
			Scope:      entry.Scope,
			ResourceID: entry.ResourceID,
			Actor:      entry.Actor,
			Clock:      entry.Clock,
			Payload:    entry.Payload,
		}
	}

	resp, err := e.transport.Push(ctx, wire.PushRequest{
		ClientID:             e.clientID,
		DatasetGenerationKey: state.DatasetGenerationKey,
		Ops:                  ops,
	})
	if err != nil && !errors.Is(err, ErrDuplicateDedupeKey) {
		return err
	}
	// A duplicate-dedupe-key rejection is treated as success: the server
	// already durably holds these envelopes either way.

	if resp.DatasetGenerationKey != "" && resp.DatasetGenerationKey != state.DatasetGenerationKey {
		return e.resetFromPush(ctx, resp.DatasetGenerationKey)
	}

	if resp.ServerSeq > state.LastServerSeq {
		state.LastServerSeq = resp.ServerSeq
	}
	if err := e.storage.PersistSyncState(ctx, state); err != nil {
		return err
	}

	acked := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		acked[entry.DedupeKey()] = struct{}{}
	}
	// Re-read rather than assume the outbox is unchanged: the repository
	// may have appended a fresh mutation's envelope between the LoadOutbox
	// above and now, and that entry must stay queued for the next tick.
	current, err := e.storage.LoadOutbox(ctx)
	if err != nil {
		return err
	}
	remaining := make([]storage.OutboxEntry, 0, len(current))
	for _, entry := range current {
		if _, done := acked[entry.DedupeKey()]; !done {
			remaining = append(remaining, entry)
		}
	}
	return e.storage.PersistOutbox(ctx, remaining)
}

// resetFromPush handles the step-1 "response carries a different
// generation" branch by re-bootstrapping to obtain a snapshot, since a
// push response never itself carries one.
func (e *Engine) resetFromPush(ctx context.Context, newKey string) error {
	resp, err := e.transport.Bootstrap(ctx, e.clientID, newKey)
	if err != nil {
		return err
	}
	return e.reset(ctx, resp.DatasetGenerationKey, resp.ServerSeq, resp.SnapshotBlob)
}

// pull implements steps 2-3.
func (e *Engine) pull(ctx context.Context) error {
	state, err := e.storage.LoadSyncState(ctx)
	if err != nil {
		return err
	}

	resp, err := e.transport.Pull(ctx, e.clientID, state.LastServerSeq, state.DatasetGenerationKey)
	if err != nil {
		return err
	}

	if resp.DatasetGenerationKey != "" && resp.DatasetGenerationKey != state.DatasetGenerationKey {
		boot, err := e.transport.Bootstrap(ctx, e.clientID, resp.DatasetGenerationKey)
		if err != nil {
			return err
		}
		return e.reset(ctx, boot.DatasetGenerationKey, boot.ServerSeq, boot.SnapshotBlob)
	}

	if len(resp.Ops) > 0 {
		if err := e.repo.ApplyRemoteOps(ctx, resp.Ops); err != nil {
			return err
		}
	}
	state.LastServerSeq = resp.ServerSeq
	if err := e.storage.PersistSyncState(ctx, state); err != nil {
		return err
	}
	if e.onRemoteOps != nil {
		e.onRemoteOps(resp.Ops)
	}
	return nil
}

// reset implements step 4: the dataset-generation reset handshake. The
// outbox is cleared, local storage is wiped, and the repository is
// rehydrated wholesale from snapshotBlob without publishing a snapshot
// event mid-reset (callers observe the final state once this returns).
func (e *Engine) reset(ctx context.Context, newKey string, serverSeq int64, snapshotBlob []byte) error {
	// ReplaceWithSnapshot clears storage itself (registry, lists, outbox,
	// sync state) before rehydrating; the no-snapshot branch clears
	// explicitly since there is nothing to rehydrate from.
	if len(snapshotBlob) > 0 {
		if err := e.repo.ReplaceWithSnapshot(ctx, snapshotBlob, false); err != nil {
			return err
		}
	} else if err := e.storage.Clear(ctx); err != nil {
		return err
	}
	return e.storage.PersistSyncState(ctx, storage.SyncState{
		ClientID:             e.clientID,
		LastServerSeq:        serverSeq,
		DatasetGenerationKey: newKey,
	})
}
