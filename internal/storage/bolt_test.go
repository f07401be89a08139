package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestBolt(t *testing.T) *Bolt {
	t.Helper()
	path := filepath.Join(t.TempDir(), "listsync.db")
	b, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBoltPersistOperationsAppendsThenSnapshotReplaces(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)

	if err := b.PersistOperations(ctx, "l1", []OpRecord{{Clock: 1, Actor: "a", Data: []byte("op1")}}, nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := b.PersistOperations(ctx, "l1", []OpRecord{{Clock: 2, Actor: "a", Data: []byte("op2")}}, nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	ls, ok, err := b.LoadList(ctx, "l1")
	if err != nil || !ok || len(ls.Operations) != 2 {
		t.Fatalf("unexpected list state: %+v ok=%v err=%v", ls, ok, err)
	}
	if ls.Operations[0].Clock != 1 || ls.Operations[1].Clock != 2 {
		t.Fatalf("expected operations in clock order, got %+v", ls.Operations)
	}

	if err := b.PersistOperations(ctx, "l1", nil, []byte("snapshot")); err != nil {
		t.Fatalf("persist snapshot: %v", err)
	}
	ls, ok, err = b.LoadList(ctx, "l1")
	if err != nil || !ok {
		t.Fatalf("LoadList after snapshot: ok=%v err=%v", ok, err)
	}
	if len(ls.Operations) != 0 {
		t.Fatalf("expected ops purged after snapshot, got %d", len(ls.Operations))
	}
	if string(ls.State) != "snapshot" {
		t.Fatalf("expected snapshot state, got %q", ls.State)
	}
}

func TestBoltMultipleListsDoNotLeakOperations(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)

	if err := b.PersistOperations(ctx, "l1", []OpRecord{{Clock: 1, Actor: "a"}}, nil); err != nil {
		t.Fatalf("persist l1: %v", err)
	}
	if err := b.PersistOperations(ctx, "l10", []OpRecord{{Clock: 1, Actor: "a"}, {Clock: 2, Actor: "a"}}, nil); err != nil {
		t.Fatalf("persist l10: %v", err)
	}

	ls1, _, err := b.LoadList(ctx, "l1")
	if err != nil || len(ls1.Operations) != 1 {
		t.Fatalf("expected l1 to have exactly its own op, got %+v err=%v", ls1, err)
	}
	ls10, _, err := b.LoadList(ctx, "l10")
	if err != nil || len(ls10.Operations) != 2 {
		t.Fatalf("expected l10 to have exactly its own ops, got %+v err=%v", ls10, err)
	}

	all, err := b.LoadAllLists(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 lists total, got %+v err=%v", all, err)
	}
}

func TestBoltPruneOperations(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)
	ops := []OpRecord{{Clock: 1, Actor: "a"}, {Clock: 2, Actor: "a"}, {Clock: 3, Actor: "a"}}
	if err := b.PersistOperations(ctx, "l1", ops, nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := b.PruneOperations(ctx, "l1", 3); err != nil {
		t.Fatalf("prune: %v", err)
	}
	ls, _, err := b.LoadList(ctx, "l1")
	if err != nil || len(ls.Operations) != 1 || ls.Operations[0].Clock != 3 {
		t.Fatalf("expected only clock-3 op to survive, got %+v err=%v", ls.Operations, err)
	}
}

func TestBoltRegistryRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)
	if err := b.PersistRegistry(ctx, []OpRecord{{Clock: 1, Actor: "a", Data: []byte("op")}}, nil); err != nil {
		t.Fatalf("persist registry: %v", err)
	}
	rs, err := b.LoadRegistry(ctx)
	if err != nil || len(rs.Operations) != 1 {
		t.Fatalf("unexpected registry state: %+v err=%v", rs, err)
	}
	if err := b.PersistRegistry(ctx, nil, []byte("snap")); err != nil {
		t.Fatalf("persist registry snapshot: %v", err)
	}
	if err := b.PruneRegistryOperations(ctx, 999); err != nil {
		t.Fatalf("prune registry ops: %v", err)
	}
	rs, err = b.LoadRegistry(ctx)
	if err != nil || len(rs.Operations) != 0 || string(rs.State) != "snap" {
		t.Fatalf("expected registry reset to snapshot, got %+v err=%v", rs, err)
	}
}

func TestBoltSyncStateOutboxAndKV(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)

	if err := b.PersistSyncState(ctx, SyncState{ClientID: "dev-1", LastServerSeq: 3, DatasetGenerationKey: "gen-1"}); err != nil {
		t.Fatalf("persist sync state: %v", err)
	}
	st, err := b.LoadSyncState(ctx)
	if err != nil || st.ClientID != "dev-1" || st.DatasetGenerationKey != "gen-1" {
		t.Fatalf("unexpected sync state: %+v err=%v", st, err)
	}

	entries := []OutboxEntry{{Scope: "registry", ResourceID: "l1", Actor: "a", Clock: 1}}
	if err := b.PersistOutbox(ctx, entries); err != nil {
		t.Fatalf("persist outbox: %v", err)
	}
	got, err := b.LoadOutbox(ctx)
	if err != nil || len(got) != 1 || got[0].Scope != "registry" {
		t.Fatalf("unexpected outbox: %+v err=%v", got, err)
	}

	if err := b.Put(ctx, "actorId", []byte("xyz")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := b.Get(ctx, "actorId")
	if err != nil || !ok || string(v) != "xyz" {
		t.Fatalf("unexpected get: v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestBoltClearResetsListsButKeepsKV(t *testing.T) {
	ctx := context.Background()
	b := openTestBolt(t)

	if err := b.Put(ctx, "actorId", []byte("keep-me")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.PersistOperations(ctx, "l1", []OpRecord{{Clock: 1, Actor: "a"}}, nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := b.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	lists, err := b.LoadAllLists(ctx)
	if err != nil || len(lists) != 0 {
		t.Fatalf("expected no lists after clear, got %+v err=%v", lists, err)
	}
	v, ok, err := b.Get(ctx, "actorId")
	if err != nil || !ok || string(v) != "keep-me" {
		t.Fatalf("expected actor id to survive Clear, got v=%q ok=%v err=%v", v, ok, err)
	}
}
