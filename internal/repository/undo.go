package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/listsync/listsync/internal/codec"
	"github.com/listsync/listsync/internal/registry"
	"github.com/listsync/listsync/internal/tasklist"
	"github.com/listsync/listsync/internal/undo"
	"github.com/listsync/listsync/internal/wire"
)

// stepOutcome is what replaying one undo.Step produced, enough to persist,
// enqueue, and later emit for the scope it touched.
type stepOutcome struct {
	registryTouched bool
	listTouched     string
	scope           string
	resourceID      string
	actor           string
	clock           int64
	payload         []byte
}

// taskPayloadFromPartial builds a full tasklist.Payload from a Step's
// Partial map, used to reinstate a task exactly as it was before removal
// (StepInsertTask's Partial carries every field, not just the ones a
// plain update would touch).
func taskPayloadFromPartial(partial map[string]any) tasklist.Payload {
	p := tasklist.Payload{}
	if v, ok := partial["text"].(string); ok {
		p.Text = v
	}
	if v, ok := partial["done"].(bool); ok {
		p.Done = v
	}
	if v, ok := partial["note"].(string); ok {
		p.Note = v
	}
	return p
}

func taskPartialFromPayload(p tasklist.Payload) map[string]any {
	return map[string]any{"text": p.Text, "done": p.Done, "note": p.Note}
}

// applyStep regenerates the CRDT operation step describes, through a
// fresh (clock, actor) pair minted at the moment of replay. It never
// reapplies a previously recorded concrete operation verbatim: the
// generic ordered-set engine dedupes by (actor, clock, type, id), so
// replaying history's own stored op would silently be a no-op the second
// time around.
func (r *Repository) applyStep(step undo.Step) (stepOutcome, error) {
	switch step.Kind {
	case undo.StepInsertList:
		op, err := r.reg.Set().GenerateInsertAt(step.ID, registry.Payload{Title: step.Title}, step.Pos)
		if err != nil {
			return stepOutcome{}, err
		}
		r.ensureList(step.ID, step.Title)
		payload, err := codec.EncodeOp(op)
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{registryTouched: true, scope: wire.ScopeRegistry, resourceID: step.ID, actor: op.Actor, clock: op.Clock, payload: payload}, nil

	case undo.StepRemoveList:
		op, err := r.reg.GenerateRemove(step.ID)
		if err != nil {
			return stepOutcome{}, err
		}
		payload, err := codec.EncodeOp(op)
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{registryTouched: true, scope: wire.ScopeRegistry, resourceID: step.ID, actor: op.Actor, clock: op.Clock, payload: payload}, nil

	case undo.StepUpdateRegistry:
		op, err := r.reg.GenerateRename(step.ID, step.Title)
		if err != nil {
			return stepOutcome{}, err
		}
		payload, err := codec.EncodeOp(op)
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{registryTouched: true, scope: wire.ScopeRegistry, resourceID: step.ID, actor: op.Actor, clock: op.Clock, payload: payload}, nil

	case undo.StepMoveList:
		op, err := r.reg.Set().GenerateMoveAt(step.ID, step.Pos)
		if err != nil {
			return stepOutcome{}, err
		}
		payload, err := codec.EncodeOp(op)
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{registryTouched: true, scope: wire.ScopeRegistry, resourceID: step.ID, actor: op.Actor, clock: op.Clock, payload: payload}, nil

	case undo.StepRenameList:
		l, ok := r.lists[step.ListID]
		if !ok {
			return stepOutcome{}, fmt.Errorf("repository: rename replay: unknown list %q", step.ListID)
		}
		renameOp := l.GenerateRename(step.Title)
		payload, err := json.Marshal(tasklist.RenameLogEntry(renameOp))
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{listTouched: step.ListID, scope: wire.ScopeList, resourceID: step.ListID, actor: renameOp.Actor, clock: renameOp.Clock, payload: payload}, nil

	case undo.StepInsertTask:
		l, ok := r.lists[step.ListID]
		if !ok {
			return stepOutcome{}, fmt.Errorf("repository: insert-task replay: unknown list %q", step.ListID)
		}
		data := taskPayloadFromPartial(step.Partial)
		op, err := l.Set().GenerateInsertAt(step.ID, data, step.Pos)
		if err != nil {
			return stepOutcome{}, err
		}
		payload, err := json.Marshal(tasklist.TaskLogEntry(op))
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{listTouched: step.ListID, scope: wire.ScopeList, resourceID: step.ListID, actor: op.Actor, clock: op.Clock, payload: payload}, nil

	case undo.StepUpdateTask:
		l, ok := r.lists[step.ListID]
		if !ok {
			return stepOutcome{}, fmt.Errorf("repository: update-task replay: unknown list %q", step.ListID)
		}
		op, err := l.GenerateUpdate(step.ID, step.Partial)
		if err != nil {
			return stepOutcome{}, err
		}
		payload, err := json.Marshal(tasklist.TaskLogEntry(op))
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{listTouched: step.ListID, scope: wire.ScopeList, resourceID: step.ListID, actor: op.Actor, clock: op.Clock, payload: payload}, nil

	case undo.StepRemoveTask:
		l, ok := r.lists[step.ListID]
		if !ok {
			return stepOutcome{}, fmt.Errorf("repository: remove-task replay: unknown list %q", step.ListID)
		}
		op, err := l.GenerateRemove(step.ID)
		if err != nil {
			return stepOutcome{}, err
		}
		payload, err := json.Marshal(tasklist.TaskLogEntry(op))
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{listTouched: step.ListID, scope: wire.ScopeList, resourceID: step.ListID, actor: op.Actor, clock: op.Clock, payload: payload}, nil

	case undo.StepMoveTask:
		l, ok := r.lists[step.ListID]
		if !ok {
			return stepOutcome{}, fmt.Errorf("repository: move-task replay: unknown list %q", step.ListID)
		}
		op, err := l.Set().GenerateMoveAt(step.ID, step.Pos)
		if err != nil {
			return stepOutcome{}, err
		}
		payload, err := json.Marshal(tasklist.TaskLogEntry(op))
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{listTouched: step.ListID, scope: wire.ScopeList, resourceID: step.ListID, actor: op.Actor, clock: op.Clock, payload: payload}, nil

	default:
		return stepOutcome{}, fmt.Errorf("repository: unknown undo step kind %q", step.Kind)
	}
}

// dirtySet tracks which scopes a batch of steps touched, so the caller can
// persist and emit for each exactly once after releasing the lock.
type dirtySet struct {
	registry bool
	lists    map[string]struct{}
}

// applySteps replays every step through the CRDT and rewrites the
// affected snapshot(s) plus outbox entries, all while the caller holds
// r.mu. It does not emit: emitting invokes subscriber callbacks, which
// must never run while the repository's lock is held, so the caller emits
// afterward based on the returned dirtySet.
func (r *Repository) applySteps(ctx context.Context, steps []undo.Step) dirtySet {
	dirty := dirtySet{lists: make(map[string]struct{})}

	for _, step := range steps {
		outcome, err := r.applyStep(step)
		if err != nil {
			log.Printf("repository: undo/redo replay failed: %v", err)
			continue
		}
		r.enqueueOutbox(ctx, outcome.scope, outcome.resourceID, outcome.actor, outcome.clock, outcome.payload)
		if outcome.registryTouched {
			dirty.registry = true
		}
		if outcome.listTouched != "" {
			dirty.lists[outcome.listTouched] = struct{}{}
		}
	}

	if dirty.registry {
		r.persistRegistry(ctx)
	}
	for listID := range dirty.lists {
		r.persistList(ctx, listID)
	}
	return dirty
}

// emit fires the change notifications a dirtySet describes. Called only
// after the caller has released r.mu.
func (r *Repository) emit(dirty dirtySet) {
	if dirty.registry {
		r.emitRegistry()
	}
	for listID := range dirty.lists {
		r.emitList(listID)
	}
}

// Undo pops the most recent action and replays its inverse steps, per
// §4.8. Reports false when there is nothing to undo.
func (r *Repository) Undo(ctx context.Context) bool {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return false
	}
	action, ok := r.history.Undo()
	if !ok {
		r.mu.Unlock()
		return false
	}
	dirty := r.applySteps(ctx, action.Inverse)
	r.mu.Unlock()
	r.emit(dirty)
	return true
}

// Redo pops the most recently undone action and replays its forward
// steps. Reports false when there is nothing to redo.
func (r *Repository) Redo(ctx context.Context) bool {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return false
	}
	action, ok := r.history.Redo()
	if !ok {
		r.mu.Unlock()
		return false
	}
	dirty := r.applySteps(ctx, action.Forward)
	r.mu.Unlock()
	r.emit(dirty)
	return true
}
