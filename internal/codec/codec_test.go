package codec

import (
	"testing"
	"time"

	"github.com/listsync/listsync/internal/crdt"
	"github.com/listsync/listsync/internal/registry"
	"github.com/listsync/listsync/internal/tasklist"
)

func TestSnapshotRoundTrip(t *testing.T) {
	r := registry.New("alice")
	if _, err := r.GenerateInsert("l1", "Groceries", "", ""); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := r.GenerateInsert("l2", "Work", "l1", ""); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := r.GenerateRemove("l1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	raw, err := EncodeSnapshot(r.Set())
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}

	restored := registry.New("alice")
	if err := DecodeSnapshot(raw, restored.Set()); err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}

	if restored.Clock() != r.Clock() {
		t.Fatalf("clock mismatch: got %d want %d", restored.Clock(), r.Clock())
	}
	lists := restored.Lists()
	if len(lists) != 1 || lists[0].ID != "l2" {
		t.Fatalf("expected only l2 live after restore, got %+v", lists)
	}
	tomb, ok := restored.Set().GetAny("l1")
	if !ok || !tomb.Tombstoned() {
		t.Fatalf("expected l1 to survive as a tombstone")
	}
}

func TestSnapshotDropsInvalidEntries(t *testing.T) {
	raw := []byte(`{"schema":"listsync.snapshot","version":1,"data":{"clock":5,"entries":[
		{"id":"","pos":[{"digit":1,"actor":"a"}],"data":{"title":"no id"}},
		{"id":"ok","pos":[{"digit":5,"actor":"a"}],"data":{"title":"fine"}}
	]}}`)
	set := registry.New("alice")
	if err := DecodeSnapshot(raw, set.Set()); err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	lists := set.Lists()
	if len(lists) != 1 || lists[0].ID != "ok" {
		t.Fatalf("expected only the valid entry to survive, got %+v", lists)
	}
}

func TestFieldWinnersSurviveRoundTrip(t *testing.T) {
	// An entry's field winner, once set by a clock-7 update, must still
	// reject a late, lower-clock (clock-4) update after a snapshot
	// round-trip, exactly as it would have before persisting.
	l := tasklist.New("alice", "List")
	if _, err := l.GenerateInsert("t", "orig", "", ""); err != nil { // clock 1
		t.Fatalf("insert: %v", err)
	}
	if _, err := l.Set().Apply(updateOp("t", "alice", 7, map[string]any{"text": "final"})); err != nil {
		t.Fatalf("update: %v", err)
	}

	raw, err := EncodeSnapshot(l.Set())
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	restored := tasklist.New("alice", "List")
	if err := DecodeSnapshot(raw, restored.Set()); err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}

	lateUpdate := updateOp("t", "bob", 4, map[string]any{"text": "late"})
	changed, err := restored.Set().Apply(lateUpdate)
	if err != nil {
		t.Fatalf("apply late update: %v", err)
	}
	if changed {
		t.Fatalf("expected late update (clock 4) to lose to the persisted clock-7 winner")
	}
	entry, ok := restored.Set().Get("t")
	if !ok || entry.Data.Text != "final" {
		t.Fatalf("expected text to remain %q, got %+v", "final", entry.Data)
	}
}

func TestListSnapshotRoundTrip(t *testing.T) {
	l := tasklist.New("alice", "Groceries")
	if _, err := l.GenerateInsert("t1", "Milk", "", ""); err != nil {
		t.Fatalf("insert: %v", err)
	}
	l.GenerateRename("Weekly Shop")

	raw, err := EncodeListSnapshot(l.Set(), l.Title(), l.TitleClock(), l.TitleActor())
	if err != nil {
		t.Fatalf("EncodeListSnapshot: %v", err)
	}

	decoded, err := DecodeListSnapshot[tasklist.Payload](raw)
	if err != nil {
		t.Fatalf("DecodeListSnapshot: %v", err)
	}
	if decoded.Title != "Weekly Shop" || decoded.TitleClock != l.TitleClock() || decoded.TitleActor != "alice" {
		t.Fatalf("unexpected title bookkeeping: %+v", decoded)
	}
	if len(decoded.Entries) != 1 || decoded.Entries[0].ID != "t1" {
		t.Fatalf("unexpected entries: %+v", decoded.Entries)
	}
}

func TestExportRoundTrip(t *testing.T) {
	r := registry.New("alice")
	if _, err := r.GenerateInsert("l1", "Groceries", "", ""); err != nil {
		t.Fatalf("insert: %v", err)
	}
	l := tasklist.New("alice", "Groceries")
	if _, err := l.GenerateInsert("t1", "Milk", "", ""); err != nil {
		t.Fatalf("insert task: %v", err)
	}

	lists := []ExportList[tasklist.Payload]{
		NewExportList("l1", l.Title(), l.TitleClock(), l.TitleActor(), l.Set()),
	}
	exportedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	raw, err := BuildExport(r.Set(), lists, exportedAt)
	if err != nil {
		t.Fatalf("BuildExport: %v", err)
	}

	result := ParseExport[registry.Payload, tasklist.Payload](raw)
	if !result.OK {
		t.Fatalf("ParseExport failed: %v", result.Err)
	}
	if len(result.Value.Data.Lists) != 1 || result.Value.Data.Lists[0].ListID != "l1" {
		t.Fatalf("unexpected export lists: %+v", result.Value.Data.Lists)
	}
	if !result.Value.Data.ExportedAt.Equal(exportedAt) {
		t.Fatalf("exportedAt mismatch: got %v want %v", result.Value.Data.ExportedAt, exportedAt)
	}
}

func TestParseExportRejectsWrongSchema(t *testing.T) {
	raw := []byte(`{"schema":"something.else","version":1,"data":{}}`)
	result := ParseExport[registry.Payload, tasklist.Payload](raw)
	if result.OK {
		t.Fatalf("expected ParseExport to reject an unrecognised schema")
	}
}

func removeOp(id, actor string, clock int64) crdt.Op[tasklist.Payload] {
	return crdt.Op[tasklist.Payload]{Type: crdt.OpRemove, ID: id, Actor: actor, Clock: clock}
}

func updateOp(id, actor string, clock int64, partial map[string]any) crdt.Op[tasklist.Payload] {
	return crdt.Op[tasklist.Payload]{Type: crdt.OpUpdate, ID: id, Actor: actor, Clock: clock, Partial: partial}
}
