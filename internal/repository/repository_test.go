package repository

import (
	"context"
	"testing"
	"time"

	"github.com/listsync/listsync/internal/registry"
	"github.com/listsync/listsync/internal/storage"
)

func newRepo(t *testing.T) (*Repository, context.Context) {
	t.Helper()
	ctx := context.Background()
	r := New(storage.NewMemory(), 500*time.Millisecond)
	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return r, ctx
}

func TestInitializeThenDisposeResetsState(t *testing.T) {
	r, _ := newRepo(t)
	if !r.IsInitialized() {
		t.Fatalf("expected repository to be initialized")
	}
	r.Dispose()
	if r.IsInitialized() {
		t.Fatalf("expected repository to report uninitialized after Dispose")
	}
	if _, err := r.GetRegistrySnapshot(); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized after Dispose, got %v", err)
	}
}

func TestUninitializedAccessorsReportError(t *testing.T) {
	r := New(storage.NewMemory(), 500*time.Millisecond)
	if _, err := r.GetRegistrySnapshot(); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized before Initialize, got %v", err)
	}
	if err := r.CreateList(context.Background(), "l1", "Groceries", "", ""); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized for a mutation before Initialize, got %v", err)
	}
}

func TestCreateListAppearsInRegistrySnapshot(t *testing.T) {
	r, ctx := newRepo(t)
	if err := r.CreateList(ctx, "l1", "Groceries", "", ""); err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	entries, err := r.GetRegistrySnapshot()
	if err != nil {
		t.Fatalf("GetRegistrySnapshot: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "l1" || entries[0].Data.Title != "Groceries" {
		t.Fatalf("unexpected registry snapshot: %+v", entries)
	}

	state, ok, err := r.GetListState("l1")
	if err != nil || !ok {
		t.Fatalf("GetListState: ok=%v err=%v", ok, err)
	}
	if state.Title != "Groceries" || len(state.Tasks) != 0 {
		t.Fatalf("unexpected list state: %+v", state)
	}
}

func TestCreateListUndoRemovesIt(t *testing.T) {
	r, ctx := newRepo(t)
	if err := r.CreateList(ctx, "l1", "Groceries", "", ""); err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	if !r.Undo(ctx) {
		t.Fatalf("expected an undoable action")
	}
	entries, err := r.GetRegistrySnapshot()
	if err != nil {
		t.Fatalf("GetRegistrySnapshot: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected the list to be gone after undo, got %+v", entries)
	}

	if !r.Redo(ctx) {
		t.Fatalf("expected a redoable action")
	}
	entries, err = r.GetRegistrySnapshot()
	if err != nil {
		t.Fatalf("GetRegistrySnapshot: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "l1" {
		t.Fatalf("expected the list to be restored after redo, got %+v", entries)
	}
}

func TestInsertTaskToggleRemoveUndoRoundTrip(t *testing.T) {
	r, ctx := newRepo(t)
	if err := r.CreateList(ctx, "l1", "Groceries", "", ""); err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	if err := r.InsertTask(ctx, "l1", "t1", "Milk", "", ""); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := r.ToggleTask(ctx, "l1", "t1", true); err != nil {
		t.Fatalf("ToggleTask: %v", err)
	}
	state, _, _ := r.GetListState("l1")
	if len(state.Tasks) != 1 || !state.Tasks[0].Data.Done {
		t.Fatalf("expected one done task, got %+v", state.Tasks)
	}

	if err := r.RemoveTask(ctx, "l1", "t1"); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	state, _, _ = r.GetListState("l1")
	if len(state.Tasks) != 0 {
		t.Fatalf("expected task removed, got %+v", state.Tasks)
	}

	// Undo the remove: task reappears with its full prior payload (done=true).
	if !r.Undo(ctx) {
		t.Fatalf("expected remove to be undoable")
	}
	state, _, _ = r.GetListState("l1")
	if len(state.Tasks) != 1 || state.Tasks[0].ID != "t1" || !state.Tasks[0].Data.Done || state.Tasks[0].Data.Text != "Milk" {
		t.Fatalf("expected reinstated task with prior payload, got %+v", state.Tasks)
	}

	// Undo the toggle: task is live again but no longer done.
	if !r.Undo(ctx) {
		t.Fatalf("expected toggle to be undoable")
	}
	state, _, _ = r.GetListState("l1")
	if len(state.Tasks) != 1 || state.Tasks[0].Data.Done {
		t.Fatalf("expected task undone back to not-done, got %+v", state.Tasks)
	}

	// Undo the insert: task is gone.
	if !r.Undo(ctx) {
		t.Fatalf("expected insert to be undoable")
	}
	state, _, _ = r.GetListState("l1")
	if len(state.Tasks) != 0 {
		t.Fatalf("expected task gone after undoing its insert, got %+v", state.Tasks)
	}
}

func TestUpdateTaskCoalescesWithinWindow(t *testing.T) {
	r, ctx := newRepo(t)
	r.now = func() time.Time { return time.Unix(0, 0) }
	if err := r.CreateList(ctx, "l1", "Groceries", "", ""); err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	if err := r.InsertTask(ctx, "l1", "t1", "", "", ""); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	base := time.Unix(100, 0)
	r.now = func() time.Time { return base }
	if err := r.UpdateTask(ctx, "l1", "t1", "text", "M"); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	r.now = func() time.Time { return base.Add(100 * time.Millisecond) }
	if err := r.UpdateTask(ctx, "l1", "t1", "text", "Mi"); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	r.now = func() time.Time { return base.Add(200 * time.Millisecond) }
	if err := r.UpdateTask(ctx, "l1", "t1", "text", "Milk"); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	if r.history.UndoLen() != 3 { // CreateList, InsertTask, then one coalesced update entry
		t.Fatalf("expected the three rapid updates to collapse into one undo entry, got undo depth %d", r.history.UndoLen())
	}

	if !r.Undo(ctx) {
		t.Fatalf("expected the coalesced update to be undoable")
	}
	state, _, _ := r.GetListState("l1")
	if state.Tasks[0].Data.Text != "" {
		t.Fatalf("expected undo to restore the pre-burst text, got %q", state.Tasks[0].Data.Text)
	}
}

func TestMoveTaskAcrossListsAndUndoRestoresBoth(t *testing.T) {
	r, ctx := newRepo(t)
	if err := r.CreateList(ctx, "l1", "Home", "", ""); err != nil {
		t.Fatalf("CreateList l1: %v", err)
	}
	if err := r.CreateList(ctx, "l2", "Work", "", ""); err != nil {
		t.Fatalf("CreateList l2: %v", err)
	}
	if err := r.InsertTask(ctx, "l1", "t1", "Report", "", ""); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	if err := r.MoveTask(ctx, "l1", "l2", "t1"); err != nil {
		t.Fatalf("MoveTask: %v", err)
	}
	l1State, _, _ := r.GetListState("l1")
	l2State, _, _ := r.GetListState("l2")
	if len(l1State.Tasks) != 0 {
		t.Fatalf("expected source list empty after move, got %+v", l1State.Tasks)
	}
	if len(l2State.Tasks) != 1 || l2State.Tasks[0].ID != "t1" || l2State.Tasks[0].Data.Text != "Report" {
		t.Fatalf("expected destination list to hold the moved task, got %+v", l2State.Tasks)
	}

	if !r.Undo(ctx) {
		t.Fatalf("expected the move to be undoable")
	}
	l1State, _, _ = r.GetListState("l1")
	l2State, _, _ = r.GetListState("l2")
	if len(l1State.Tasks) != 1 || l1State.Tasks[0].ID != "t1" {
		t.Fatalf("expected task restored to source list, got %+v", l1State.Tasks)
	}
	if len(l2State.Tasks) != 0 {
		t.Fatalf("expected destination list empty again after undo, got %+v", l2State.Tasks)
	}
}

func TestMergeTaskConcatenatesAndUndoRestoresBoth(t *testing.T) {
	r, ctx := newRepo(t)
	if err := r.CreateList(ctx, "l1", "Notes", "", ""); err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	if err := r.InsertTask(ctx, "l1", "a", "Buy milk", "", ""); err != nil {
		t.Fatalf("InsertTask a: %v", err)
	}
	if err := r.InsertTask(ctx, "l1", "b", " and eggs", "a", ""); err != nil {
		t.Fatalf("InsertTask b: %v", err)
	}

	if err := r.MergeTask(ctx, "l1", "a", "b"); err != nil {
		t.Fatalf("MergeTask: %v", err)
	}
	state, _, _ := r.GetListState("l1")
	if len(state.Tasks) != 1 || state.Tasks[0].Data.Text != "Buy milk and eggs" {
		t.Fatalf("expected merged text, got %+v", state.Tasks)
	}

	if !r.Undo(ctx) {
		t.Fatalf("expected the merge to be undoable")
	}
	state, _, _ = r.GetListState("l1")
	if len(state.Tasks) != 2 {
		t.Fatalf("expected both tasks restored after undo, got %+v", state.Tasks)
	}
}

func TestSubscribeRegistryEmitCurrentAndOnChange(t *testing.T) {
	r, ctx := newRepo(t)
	if err := r.CreateList(ctx, "l1", "Groceries", "", ""); err != nil {
		t.Fatalf("CreateList: %v", err)
	}

	var calls int
	var lastTitles []string
	unsub := r.SubscribeRegistry(func(entries []registry.Entry) {
		calls++
		titles := make([]string, len(entries))
		for i, e := range entries {
			titles[i] = e.Data.Title
		}
		lastTitles = titles
	}, true)
	defer unsub()

	if calls != 1 {
		t.Fatalf("expected emitCurrent to fire the handler once immediately, got %d calls", calls)
	}
	if len(lastTitles) != 1 || lastTitles[0] != "Groceries" {
		t.Fatalf("expected the current snapshot on subscribe, got %+v", lastTitles)
	}

	if err := r.CreateList(ctx, "l2", "Work", "l1", ""); err != nil {
		t.Fatalf("CreateList l2: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a second call after the mutation, got %d calls", calls)
	}
	if len(lastTitles) != 2 {
		t.Fatalf("expected both lists in the updated snapshot, got %+v", lastTitles)
	}
}

func TestSubscribeListEmitCurrentAndOnChange(t *testing.T) {
	r, ctx := newRepo(t)
	if err := r.CreateList(ctx, "l1", "Groceries", "", ""); err != nil {
		t.Fatalf("CreateList: %v", err)
	}

	var calls int
	var lastState ListState
	unsub := r.SubscribeList("l1", func(state ListState) {
		calls++
		lastState = state
	}, true)
	defer unsub()

	if calls != 1 || lastState.Title != "Groceries" {
		t.Fatalf("expected emitCurrent with the list's state, got calls=%d state=%+v", calls, lastState)
	}

	if err := r.InsertTask(ctx, "l1", "t1", "Milk", "", ""); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if calls != 2 || len(lastState.Tasks) != 1 {
		t.Fatalf("expected a second call carrying the new task, got calls=%d state=%+v", calls, lastState)
	}
}

func TestInitializeNeverFiresSubscriberEvents(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	seed := New(st, 500*time.Millisecond)
	if err := seed.Initialize(ctx); err != nil {
		t.Fatalf("seed Initialize: %v", err)
	}
	if err := seed.CreateList(ctx, "l1", "Groceries", "", ""); err != nil {
		t.Fatalf("seed CreateList: %v", err)
	}
	seed.Dispose()

	r := New(st, 500*time.Millisecond)
	fired := false
	r.Subscribe(func(Event) { fired = true })
	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if fired {
		t.Fatalf("expected hydration to never fire a subscriber event")
	}
}

func TestBuildExportSnapshotAndReplaceRoundTrip(t *testing.T) {
	r, ctx := newRepo(t)
	if err := r.CreateList(ctx, "l1", "Groceries", "", ""); err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	if err := r.InsertTask(ctx, "l1", "t1", "Milk", "", ""); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := r.RenameList(ctx, "l1", "Shopping"); err != nil {
		t.Fatalf("RenameList: %v", err)
	}

	raw, err := r.BuildExportSnapshot(time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("BuildExportSnapshot: %v", err)
	}

	r2, ctx2 := newRepo(t)
	if err := r2.ReplaceWithSnapshot(ctx2, raw, false); err != nil {
		t.Fatalf("ReplaceWithSnapshot: %v", err)
	}

	entries, err := r2.GetRegistrySnapshot()
	if err != nil {
		t.Fatalf("GetRegistrySnapshot: %v", err)
	}
	if len(entries) != 1 || entries[0].Data.Title != "Shopping" {
		t.Fatalf("expected the imported registry entry, got %+v", entries)
	}
	state, ok, err := r2.GetListState("l1")
	if err != nil || !ok {
		t.Fatalf("GetListState: ok=%v err=%v", ok, err)
	}
	if state.Title != "Shopping" || len(state.Tasks) != 1 || state.Tasks[0].Data.Text != "Milk" {
		t.Fatalf("unexpected imported list state: %+v", state)
	}

	if r2.Undo(ctx2) {
		t.Fatalf("expected undo history to be cleared by a snapshot replace")
	}
}
