package hydrate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/listsync/listsync/internal/codec"
	"github.com/listsync/listsync/internal/registry"
	"github.com/listsync/listsync/internal/storage"
	"github.com/listsync/listsync/internal/tasklist"
)

func TestLoadFromEmptyStorageProducesEmptyState(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()

	result, err := Load(ctx, st, "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(result.Registry.Lists()) != 0 {
		t.Fatalf("expected empty registry, got %+v", result.Registry.Lists())
	}
	if len(result.Lists) != 0 {
		t.Fatalf("expected no lists, got %+v", result.Lists)
	}
}

func TestLoadRebuildsRegistryFromSnapshotAndOpTail(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()

	reg := registry.New("alice")
	if _, err := reg.GenerateInsert("l1", "Groceries", "", ""); err != nil {
		t.Fatalf("insert: %v", err)
	}
	snap, err := codec.EncodeSnapshot(reg.Set())
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	if err := st.PersistRegistry(ctx, nil, snap); err != nil {
		t.Fatalf("persist registry snapshot: %v", err)
	}

	// A tail op that arrived after the snapshot was taken: rename l1.
	renameOp, err := reg.GenerateRename("l1", "Shopping")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	encoded, err := codec.EncodeOp(renameOp)
	if err != nil {
		t.Fatalf("EncodeOp: %v", err)
	}
	if err := st.PersistRegistry(ctx, []storage.OpRecord{{Clock: renameOp.Clock, Actor: renameOp.Actor, Data: encoded}}, nil); err != nil {
		t.Fatalf("persist registry op: %v", err)
	}

	result, err := Load(ctx, st, "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	lists := result.Registry.Lists()
	if len(lists) != 1 || lists[0].Data.Title != "Shopping" {
		t.Fatalf("expected rename from op tail to apply, got %+v", lists)
	}
	if result.Registry.Clock() < renameOp.Clock {
		t.Fatalf("expected hydrated clock >= max observed clock %d, got %d", renameOp.Clock, result.Registry.Clock())
	}
}

func TestLoadRebuildsListFromSnapshotAndOpTailIncludingRename(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()

	reg := registry.New("alice")
	if _, err := reg.GenerateInsert("l1", "Groceries", "", ""); err != nil {
		t.Fatalf("insert list: %v", err)
	}
	regSnap, err := codec.EncodeSnapshot(reg.Set())
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	if err := st.PersistRegistry(ctx, nil, regSnap); err != nil {
		t.Fatalf("persist registry: %v", err)
	}

	l := tasklist.New("alice", "Groceries")
	insertOp, err := l.GenerateInsert("t1", "Milk", "", "")
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}
	listSnap, err := codec.EncodeListSnapshot(l.Set(), l.Title(), l.TitleClock(), l.TitleActor())
	if err != nil {
		t.Fatalf("EncodeListSnapshot: %v", err)
	}
	if err := st.PersistOperations(ctx, "l1", nil, listSnap); err != nil {
		t.Fatalf("persist list snapshot: %v", err)
	}

	renameOp := l.GenerateRename("Weekly Shop")
	renameEncoded, err := json.Marshal(tasklist.RenameLogEntry(renameOp))
	if err != nil {
		t.Fatalf("marshal rename log entry: %v", err)
	}
	toggleOp, err := l.GenerateToggle("t1", true)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	toggleEncoded, err := json.Marshal(tasklist.TaskLogEntry(toggleOp))
	if err != nil {
		t.Fatalf("marshal task log entry: %v", err)
	}

	err = st.PersistOperations(ctx, "l1", []storage.OpRecord{
		{Clock: renameOp.Clock, Actor: renameOp.Actor, Data: renameEncoded},
		{Clock: toggleOp.Clock, Actor: toggleOp.Actor, Data: toggleEncoded},
	}, nil)
	if err != nil {
		t.Fatalf("persist list ops: %v", err)
	}

	result, err := Load(ctx, st, "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	restored, ok := result.Lists["l1"]
	if !ok {
		t.Fatalf("expected l1 to be hydrated, got %+v", result.Lists)
	}
	if restored.Title() != "Weekly Shop" {
		t.Fatalf("expected rename op tail to apply, got title %q", restored.Title())
	}
	task, ok := restored.Set().Get("t1")
	if !ok || !task.Data.Done {
		t.Fatalf("expected toggle op tail to apply, got %+v", task)
	}
}

func TestLoadIncludesListsPresentOnlyInStorageNotRegistry(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()

	l := tasklist.New("alice", "Orphan")
	snap, err := codec.EncodeListSnapshot(l.Set(), l.Title(), l.TitleClock(), l.TitleActor())
	if err != nil {
		t.Fatalf("EncodeListSnapshot: %v", err)
	}
	if err := st.PersistOperations(ctx, "orphan", nil, snap); err != nil {
		t.Fatalf("persist: %v", err)
	}

	result, err := Load(ctx, st, "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := result.Lists["orphan"]; !ok {
		t.Fatalf("expected a list present only in storage (not the registry) to still hydrate")
	}
}
