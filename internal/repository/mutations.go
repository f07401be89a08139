package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/listsync/listsync/internal/codec"
	"github.com/listsync/listsync/internal/tasklist"
	"github.com/listsync/listsync/internal/undo"
	"github.com/listsync/listsync/internal/wire"
)

// coalesceKey builds the (listId, itemId, field) key §4.8 coalesces
// consecutive updateTask actions on.
func coalesceKey(listID, itemID, field string) string {
	return listID + "|" + itemID + "|" + field
}

// CreateList inserts a new list titled title between afterID and
// beforeID (either may be empty).
func (r *Repository) CreateList(ctx context.Context, id, title, afterID, beforeID string) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}

	op, err := r.reg.GenerateInsert(id, title, afterID, beforeID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.ensureList(id, title)

	payload, err := codec.EncodeOp(op)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.persistRegistry(ctx)
	r.persistList(ctx, id)
	r.enqueueOutbox(ctx, wire.ScopeRegistry, id, op.Actor, op.Clock, payload)

	r.history.Record(undo.Action{
		Forward:   []undo.Step{{Kind: undo.StepInsertList, ID: id, Title: title, Pos: op.Pos}},
		Inverse:   []undo.Step{{Kind: undo.StepRemoveList, ID: id}},
		CreatedAt: r.now(),
	})
	r.mu.Unlock()

	r.emit(dirtySet{registry: true, lists: map[string]struct{}{id: {}}})
	return nil
}

// RemoveList tombstones id.
func (r *Repository) RemoveList(ctx context.Context, id string) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	entry, ok := r.reg.Set().Get(id)
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	op, err := r.reg.GenerateRemove(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	payload, err := codec.EncodeOp(op)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.persistRegistry(ctx)
	r.enqueueOutbox(ctx, wire.ScopeRegistry, id, op.Actor, op.Clock, payload)

	r.history.Record(undo.Action{
		Forward:   []undo.Step{{Kind: undo.StepRemoveList, ID: id}},
		Inverse:   []undo.Step{{Kind: undo.StepInsertList, ID: id, Title: entry.Data.Title, Pos: entry.Pos}},
		CreatedAt: r.now(),
	})
	r.mu.Unlock()

	r.emit(dirtySet{registry: true})
	return nil
}

// RenameList retitles id. The registry's own title (the sidebar cache)
// and the list's own title field (the per-list source of truth) are two
// independent LWW cells, so this bundles one Step against each into a
// single undo/redo action.
func (r *Repository) RenameList(ctx context.Context, id, title string) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	regEntry, ok := r.reg.Set().Get(id)
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	l, ok := r.lists[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	priorRegistryTitle := regEntry.Data.Title
	priorListTitle := l.Title()

	regOp, err := r.reg.GenerateRename(id, title)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	regPayload, err := codec.EncodeOp(regOp)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	renameOp := l.GenerateRename(title)
	listPayload, err := json.Marshal(tasklist.RenameLogEntry(renameOp))
	if err != nil {
		r.mu.Unlock()
		return err
	}

	r.persistRegistry(ctx)
	r.persistList(ctx, id)
	r.enqueueOutbox(ctx, wire.ScopeRegistry, id, regOp.Actor, regOp.Clock, regPayload)
	r.enqueueOutbox(ctx, wire.ScopeList, id, renameOp.Actor, renameOp.Clock, listPayload)

	r.history.Record(undo.Action{
		Forward: []undo.Step{
			{Kind: undo.StepUpdateRegistry, ID: id, Title: title},
			{Kind: undo.StepRenameList, ListID: id, Title: title},
		},
		Inverse: []undo.Step{
			{Kind: undo.StepUpdateRegistry, ID: id, Title: priorRegistryTitle},
			{Kind: undo.StepRenameList, ListID: id, Title: priorListTitle},
		},
		CreatedAt: r.now(),
	})
	r.mu.Unlock()

	r.emit(dirtySet{registry: true, lists: map[string]struct{}{id: {}}})
	return nil
}

// ReorderList repositions list id between afterID and beforeID in the
// registry's display order.
func (r *Repository) ReorderList(ctx context.Context, id, afterID, beforeID string) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	before, ok := r.reg.Set().Get(id)
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	op, err := r.reg.GenerateMove(id, afterID, beforeID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	payload, err := codec.EncodeOp(op)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.persistRegistry(ctx)
	r.enqueueOutbox(ctx, wire.ScopeRegistry, id, op.Actor, op.Clock, payload)

	r.history.Record(undo.Action{
		Forward:   []undo.Step{{Kind: undo.StepMoveList, ID: id, Pos: op.Pos}},
		Inverse:   []undo.Step{{Kind: undo.StepMoveList, ID: id, Pos: before.Pos}},
		CreatedAt: r.now(),
	})
	r.mu.Unlock()

	r.emit(dirtySet{registry: true})
	return nil
}

// InsertTask adds a new task to listID between afterID and beforeID.
func (r *Repository) InsertTask(ctx context.Context, listID, id, text, afterID, beforeID string) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	l, ok := r.lists[listID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	op, err := l.GenerateInsert(id, text, afterID, beforeID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	payload, err := json.Marshal(tasklist.TaskLogEntry(op))
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.persistList(ctx, listID)
	r.enqueueOutbox(ctx, wire.ScopeList, listID, op.Actor, op.Clock, payload)

	r.history.Record(undo.Action{
		Forward: []undo.Step{{
			Kind: undo.StepInsertTask, ListID: listID, ID: id, Pos: op.Pos,
			Partial: map[string]any{"text": text, "done": false, "note": ""},
		}},
		Inverse:   []undo.Step{{Kind: undo.StepRemoveTask, ListID: listID, ID: id}},
		CreatedAt: r.now(),
	})
	r.mu.Unlock()

	r.emit(dirtySet{lists: map[string]struct{}{listID: {}}})
	return nil
}

// updateTaskField is the shared path for UpdateTask and ToggleTask: both
// generate a single-field partial update, differing only in whether the
// resulting undo entry coalesces with a preceding edit to the same field.
func (r *Repository) updateTaskField(ctx context.Context, listID, id, field string, value any, coalesce bool) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	l, ok := r.lists[listID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	before, ok := l.Set().Get(id)
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	priorValue := fieldValue(before.Data, field)

	op, err := l.GenerateUpdate(id, map[string]any{field: value})
	if err != nil {
		r.mu.Unlock()
		return err
	}
	payload, err := json.Marshal(tasklist.TaskLogEntry(op))
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.persistList(ctx, listID)
	r.enqueueOutbox(ctx, wire.ScopeList, listID, op.Actor, op.Clock, payload)

	action := undo.Action{
		Forward:   []undo.Step{{Kind: undo.StepUpdateTask, ListID: listID, ID: id, Partial: map[string]any{field: value}}},
		Inverse:   []undo.Step{{Kind: undo.StepUpdateTask, ListID: listID, ID: id, Partial: map[string]any{field: priorValue}}},
		CreatedAt: r.now(),
	}
	if coalesce {
		action.CoalesceKey = coalesceKey(listID, id, field)
	}
	r.history.Record(action)
	r.mu.Unlock()

	r.emit(dirtySet{lists: map[string]struct{}{listID: {}}})
	return nil
}

func fieldValue(p tasklist.Payload, field string) any {
	switch field {
	case "text":
		return p.Text
	case "done":
		return p.Done
	case "note":
		return p.Note
	default:
		return nil
	}
}

// UpdateTask partially updates one field of a task. Consecutive calls for
// the same (listID, id, field) within the undo history's coalescing
// window collapse into a single undo entry, per §4.8.
func (r *Repository) UpdateTask(ctx context.Context, listID, id, field string, value any) error {
	return r.updateTaskField(ctx, listID, id, field, value, true)
}

// ToggleTask flips a task's done flag. Each toggle is its own undo entry
// — it never coalesces, unlike UpdateTask's rapid-text-edit case.
func (r *Repository) ToggleTask(ctx context.Context, listID, id string, done bool) error {
	return r.updateTaskField(ctx, listID, id, "done", done, false)
}

// RemoveTask tombstones a task, capturing its exact position and full
// payload so undo can reinstate it precisely.
func (r *Repository) RemoveTask(ctx context.Context, listID, id string) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	l, ok := r.lists[listID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	entry, ok := l.Set().Get(id)
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	op, err := l.GenerateRemove(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	payload, err := json.Marshal(tasklist.TaskLogEntry(op))
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.persistList(ctx, listID)
	r.enqueueOutbox(ctx, wire.ScopeList, listID, op.Actor, op.Clock, payload)

	r.history.Record(undo.Action{
		Forward: []undo.Step{{Kind: undo.StepRemoveTask, ListID: listID, ID: id}},
		Inverse: []undo.Step{{
			Kind: undo.StepInsertTask, ListID: listID, ID: id, Pos: entry.Pos,
			Partial: taskPartialFromPayload(entry.Data),
		}},
		CreatedAt: r.now(),
	})
	r.mu.Unlock()

	r.emit(dirtySet{lists: map[string]struct{}{listID: {}}})
	return nil
}

// MoveTaskWithinList repositions a task inside its own list.
func (r *Repository) MoveTaskWithinList(ctx context.Context, listID, id, afterID, beforeID string) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	l, ok := r.lists[listID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	before, ok := l.Set().Get(id)
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	op, err := l.GenerateMove(id, afterID, beforeID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	payload, err := json.Marshal(tasklist.TaskLogEntry(op))
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.persistList(ctx, listID)
	r.enqueueOutbox(ctx, wire.ScopeList, listID, op.Actor, op.Clock, payload)

	r.history.Record(undo.Action{
		Forward:   []undo.Step{{Kind: undo.StepMoveTask, ListID: listID, ID: id, Pos: op.Pos}},
		Inverse:   []undo.Step{{Kind: undo.StepMoveTask, ListID: listID, ID: id, Pos: before.Pos}},
		CreatedAt: r.now(),
	})
	r.mu.Unlock()

	r.emit(dirtySet{lists: map[string]struct{}{listID: {}}})
	return nil
}

// MoveTask relocates task id from fromListID to toListID, appending it at
// the destination's end. The two list writes commit as a unit: if the
// destination insert fails after the source remove succeeded, the source
// removal is rolled back by re-applying its inverse before the error is
// reported, so the repository never reports a half-moved task.
func (r *Repository) MoveTask(ctx context.Context, fromListID, toListID, id string) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	fromList, ok := r.lists[fromListID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	toList, ok := r.lists[toListID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	entry, ok := fromList.Set().Get(id)
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	removeOp, err := fromList.GenerateRemove(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	lastID := ""
	if tasks := toList.Tasks(); len(tasks) > 0 {
		lastID = tasks[len(tasks)-1].ID
	}
	insertOp, err := toList.Set().GenerateInsert(id, entry.Data, lastID, "")
	if err != nil {
		// Roll back the source removal so the task isn't stranded in
		// neither list.
		if _, rerr := fromList.Set().GenerateInsertAt(id, entry.Data, entry.Pos); rerr != nil {
			r.mu.Unlock()
			return fmt.Errorf("repository: move task: insert into destination failed (%w), rollback also failed: %v", err, rerr)
		}
		r.mu.Unlock()
		return err
	}

	removePayload, err := json.Marshal(tasklist.TaskLogEntry(removeOp))
	if err != nil {
		r.mu.Unlock()
		return err
	}
	insertPayload, err := json.Marshal(tasklist.TaskLogEntry(insertOp))
	if err != nil {
		r.mu.Unlock()
		return err
	}

	r.persistList(ctx, fromListID)
	r.persistList(ctx, toListID)
	r.enqueueOutbox(ctx, wire.ScopeList, fromListID, removeOp.Actor, removeOp.Clock, removePayload)
	r.enqueueOutbox(ctx, wire.ScopeList, toListID, insertOp.Actor, insertOp.Clock, insertPayload)

	r.history.Record(undo.Action{
		Forward: []undo.Step{
			{Kind: undo.StepRemoveTask, ListID: fromListID, ID: id},
			{Kind: undo.StepInsertTask, ListID: toListID, ID: id, Pos: insertOp.Pos, Partial: taskPartialFromPayload(entry.Data)},
		},
		Inverse: []undo.Step{
			{Kind: undo.StepInsertTask, ListID: fromListID, ID: id, Pos: entry.Pos, Partial: taskPartialFromPayload(entry.Data)},
			{Kind: undo.StepRemoveTask, ListID: toListID, ID: id},
		},
		CreatedAt: r.now(),
	})
	r.mu.Unlock()

	r.emit(dirtySet{lists: map[string]struct{}{fromListID: {}, toListID: {}}})
	return nil
}

// MergeTask concatenates mergedID's text onto survivorID's and removes
// mergedID — a single bundled mutation whose undo entry carries two
// inverses: reinstating the removed entry and restoring the survivor's
// prior text.
func (r *Repository) MergeTask(ctx context.Context, listID, survivorID, mergedID string) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	l, ok := r.lists[listID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	survivor, ok := l.Set().Get(survivorID)
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	merged, ok := l.Set().Get(mergedID)
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	priorSurvivorText := survivor.Data.Text
	newText := survivor.Data.Text + merged.Data.Text

	updateOp, err := l.GenerateUpdate(survivorID, map[string]any{"text": newText})
	if err != nil {
		r.mu.Unlock()
		return err
	}
	removeOp, err := l.GenerateRemove(mergedID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	updatePayload, err := json.Marshal(tasklist.TaskLogEntry(updateOp))
	if err != nil {
		r.mu.Unlock()
		return err
	}
	removePayload, err := json.Marshal(tasklist.TaskLogEntry(removeOp))
	if err != nil {
		r.mu.Unlock()
		return err
	}

	r.persistList(ctx, listID)
	r.enqueueOutbox(ctx, wire.ScopeList, listID, updateOp.Actor, updateOp.Clock, updatePayload)
	r.enqueueOutbox(ctx, wire.ScopeList, listID, removeOp.Actor, removeOp.Clock, removePayload)

	r.history.Record(undo.Action{
		Forward: []undo.Step{
			{Kind: undo.StepUpdateTask, ListID: listID, ID: survivorID, Partial: map[string]any{"text": newText}},
			{Kind: undo.StepRemoveTask, ListID: listID, ID: mergedID},
		},
		Inverse: []undo.Step{
			{Kind: undo.StepInsertTask, ListID: listID, ID: mergedID, Pos: merged.Pos, Partial: taskPartialFromPayload(merged.Data)},
			{Kind: undo.StepUpdateTask, ListID: listID, ID: survivorID, Partial: map[string]any{"text": priorSurvivorText}},
		},
		CreatedAt: r.now(),
	})
	r.mu.Unlock()

	r.emit(dirtySet{lists: map[string]struct{}{listID: {}}})
	return nil
}
