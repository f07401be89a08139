package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/listsync/listsync/internal/codec"
	"github.com/listsync/listsync/internal/crdt"
	"github.com/listsync/listsync/internal/registry"
	"github.com/listsync/listsync/internal/tasklist"
	"github.com/listsync/listsync/internal/wire"
)

// ApplyRemoteOps folds a batch of remotely originated envelopes into the
// registry and list CRDTs, per §4.9's sync-engine contract: every op is
// applied through the same idempotent Apply/ApplyLogEntry path a locally
// replayed op would use, so a duplicate delivery is silently absorbed.
// Only the scopes an envelope actually changed are persisted and emitted.
func (r *Repository) ApplyRemoteOps(ctx context.Context, ops []wire.Envelope) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}

	dirty := dirtySet{lists: make(map[string]struct{})}
	for _, env := range ops {
		changed, listID, err := r.applyRemoteOp(env)
		if err != nil {
			return wrapUnlock(r, err)
		}
		if !changed {
			continue
		}
		if env.Scope == wire.ScopeRegistry {
			dirty.registry = true
		} else {
			dirty.lists[listID] = struct{}{}
		}
	}

	if dirty.registry {
		r.persistRegistry(ctx)
	}
	for listID := range dirty.lists {
		r.persistList(ctx, listID)
	}
	r.mu.Unlock()

	r.emit(dirty)
	return nil
}

// wrapUnlock unlocks r.mu before returning err, so every early-exit path
// in ApplyRemoteOps can share one line instead of repeating unlock+return.
func wrapUnlock(r *Repository, err error) error {
	r.mu.Unlock()
	return err
}

// applyRemoteOp applies one envelope and reports whether it changed state
// and, for a list-scoped envelope, which list. Called with r.mu held.
func (r *Repository) applyRemoteOp(env wire.Envelope) (bool, string, error) {
	switch env.Scope {
	case wire.ScopeRegistry:
		op, decodeErr := codec.DecodeOp[registry.Payload](env.Payload)
		if decodeErr != nil {
			return false, "", fmt.Errorf("repository: decode remote registry op: %w", decodeErr)
		}
		applied, applyErr := r.reg.Apply(op)
		if applyErr != nil {
			return false, "", applyErr
		}
		if applied && op.Type == crdt.OpInsert {
			r.ensureList(op.ID, op.Data.Title)
		}
		return applied, "", nil

	case wire.ScopeList:
		l, ok := r.lists[env.ResourceID]
		if !ok {
			l = tasklist.New(r.actorID, "")
			r.lists[env.ResourceID] = l
		}
		var entry tasklist.LogEntry
		if err := json.Unmarshal(env.Payload, &entry); err != nil {
			return false, "", fmt.Errorf("repository: decode remote list op: %w", err)
		}
		applied, applyErr := l.ApplyLogEntry(entry)
		if applyErr != nil {
			return false, "", applyErr
		}
		return applied, env.ResourceID, nil

	default:
		return false, "", fmt.Errorf("repository: unknown envelope scope %q", env.Scope)
	}
}
