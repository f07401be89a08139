package actor

import (
	"context"
	"sync"
	"testing"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func TestResolveGeneratesAndPersists(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()

	id, err := Resolve(ctx, kv)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id == "" {
		t.Fatalf("expected non-empty actor id")
	}

	again, err := Resolve(ctx, kv)
	if err != nil {
		t.Fatalf("Resolve second call: %v", err)
	}
	if again != id {
		t.Fatalf("expected stable actor id across calls, got %q then %q", id, again)
	}
}

func TestResolveHonoursExisting(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()
	if err := kv.Put(ctx, idKey, []byte("fixed-actor-id")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	id, err := Resolve(ctx, kv)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "fixed-actor-id" {
		t.Fatalf("expected existing id to be honoured, got %q", id)
	}
}
