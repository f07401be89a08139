package storage

import (
	"context"
	"testing"
)

func TestMemoryPersistOperationsAppendsThenSnapshotReplaces(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.PersistOperations(ctx, "l1", []OpRecord{{Clock: 1, Actor: "a", Data: []byte("op1")}}, nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := m.PersistOperations(ctx, "l1", []OpRecord{{Clock: 2, Actor: "a", Data: []byte("op2")}}, nil); err != nil {
		t.Fatalf("persist: %v", err)
	}

	ls, ok, err := m.LoadList(ctx, "l1")
	if err != nil || !ok {
		t.Fatalf("LoadList: ok=%v err=%v", ok, err)
	}
	if len(ls.Operations) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(ls.Operations))
	}

	if err := m.PersistOperations(ctx, "l1", nil, []byte("snapshot")); err != nil {
		t.Fatalf("persist snapshot: %v", err)
	}
	ls, ok, err = m.LoadList(ctx, "l1")
	if err != nil || !ok {
		t.Fatalf("LoadList after snapshot: ok=%v err=%v", ok, err)
	}
	if len(ls.Operations) != 0 {
		t.Fatalf("expected operations purged after snapshot, got %d", len(ls.Operations))
	}
	if string(ls.State) != "snapshot" {
		t.Fatalf("expected state %q, got %q", "snapshot", ls.State)
	}
}

func TestMemoryPersistOperationsIsIdempotentOnRetry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	op := OpRecord{Clock: 5, Actor: "a", Data: []byte("first")}

	if err := m.PersistOperations(ctx, "l1", []OpRecord{op}, nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	// Retry the exact same op (e.g. after a crash mid-push) — a different
	// payload under the same (clock, actor) key must replace, not duplicate.
	op.Data = []byte("retry")
	if err := m.PersistOperations(ctx, "l1", []OpRecord{op}, nil); err != nil {
		t.Fatalf("persist retry: %v", err)
	}

	ls, _, _ := m.LoadList(ctx, "l1")
	if len(ls.Operations) != 1 {
		t.Fatalf("expected exactly one op after idempotent retry, got %d", len(ls.Operations))
	}
	if string(ls.Operations[0].Data) != "retry" {
		t.Fatalf("expected retried payload to win, got %q", ls.Operations[0].Data)
	}
}

func TestMemoryPruneOperations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ops := []OpRecord{{Clock: 1, Actor: "a"}, {Clock: 2, Actor: "a"}, {Clock: 3, Actor: "a"}}
	if err := m.PersistOperations(ctx, "l1", ops, nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := m.PruneOperations(ctx, "l1", 3); err != nil {
		t.Fatalf("prune: %v", err)
	}
	ls, _, _ := m.LoadList(ctx, "l1")
	if len(ls.Operations) != 1 || ls.Operations[0].Clock != 3 {
		t.Fatalf("expected only clock-3 op to survive, got %+v", ls.Operations)
	}
}

func TestMemoryRegistryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.PersistRegistry(ctx, []OpRecord{{Clock: 1, Actor: "a", Data: []byte("op")}}, nil); err != nil {
		t.Fatalf("persist registry: %v", err)
	}
	rs, err := m.LoadRegistry(ctx)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	if len(rs.Operations) != 1 {
		t.Fatalf("expected 1 registry op, got %d", len(rs.Operations))
	}

	if err := m.PersistRegistry(ctx, nil, []byte("snap")); err != nil {
		t.Fatalf("persist registry snapshot: %v", err)
	}
	rs, _ = m.LoadRegistry(ctx)
	if len(rs.Operations) != 0 || string(rs.State) != "snap" {
		t.Fatalf("expected registry reset to snapshot, got %+v", rs)
	}
}

func TestMemorySyncStateAndOutbox(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.PersistSyncState(ctx, SyncState{ClientID: "dev-1", LastServerSeq: 7}); err != nil {
		t.Fatalf("persist sync state: %v", err)
	}
	st, err := m.LoadSyncState(ctx)
	if err != nil || st.ClientID != "dev-1" || st.LastServerSeq != 7 {
		t.Fatalf("unexpected sync state: %+v err=%v", st, err)
	}

	entries := []OutboxEntry{{Scope: "list", ResourceID: "l1", Actor: "a", Clock: 1}}
	if err := m.PersistOutbox(ctx, entries); err != nil {
		t.Fatalf("persist outbox: %v", err)
	}
	got, err := m.LoadOutbox(ctx)
	if err != nil || len(got) != 1 || got[0].ResourceID != "l1" {
		t.Fatalf("unexpected outbox: %+v err=%v", got, err)
	}
}

func TestMemoryKVAndClear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Put(ctx, "actorId", []byte("abc")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := m.Get(ctx, "actorId")
	if err != nil || !ok || string(v) != "abc" {
		t.Fatalf("unexpected get: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := m.PersistOperations(ctx, "l1", []OpRecord{{Clock: 1, Actor: "a"}}, nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	lists, err := m.LoadAllLists(ctx)
	if err != nil || len(lists) != 0 {
		t.Fatalf("expected no lists after clear, got %+v err=%v", lists, err)
	}
	// Clear resets CRDT state but must not touch the stable actor id.
	v, ok, err = m.Get(ctx, "actorId")
	if err != nil || !ok || string(v) != "abc" {
		t.Fatalf("expected actor id to survive Clear, got v=%q ok=%v err=%v", v, ok, err)
	}
}
