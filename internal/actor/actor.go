// Package actor resolves the stable per-device identifier used as the
// "actor" field on every locally generated operation.
package actor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// idKey is the fixed literal key under which the actor id is stored in
// durable key-value storage.
const idKey = "actorId"

// KV is the minimal durable key-value contract actor identity needs. The
// local storage adapter satisfies this directly; tests can supply an
// in-memory double.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Resolve reads the stable actor id from kv. If none has been written yet
// it generates a UUID-based id, persists it, and returns it. Subsequent
// calls against the same kv always return the same id.
func Resolve(ctx context.Context, kv KV) (string, error) {
	existing, ok, err := kv.Get(ctx, idKey)
	if err != nil {
		return "", fmt.Errorf("actor: read stored id: %w", err)
	}
	if ok && len(existing) > 0 {
		return string(existing), nil
	}

	id := uuid.New().String()
	if err := kv.Put(ctx, idKey, []byte(id)); err != nil {
		return "", fmt.Errorf("actor: persist generated id: %w", err)
	}
	return id, nil
}
