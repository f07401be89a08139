// Package undo implements the global undo/redo history: a stack pair of
// forward/inverse operation bundles, with time-based coalescing for
// rapid-fire edits to the same field.
package undo

import (
	"sync"
	"time"

	"github.com/listsync/listsync/internal/position"
)

// StepKind tags which regeneration a Step describes. A Step is never a
// frozen operation: replaying it (forward for redo, inverse for undo)
// always mints a fresh (clock, actor) pair through the owning CRDT's own
// Generate* path, exactly as if the user had just made that edit again —
// replaying a historical op verbatim would hit the CRDT's own dedupe on
// (actor, clock, type, id) and silently do nothing.
type StepKind string

const (
	StepInsertList     StepKind = "insertList"
	StepRemoveList     StepKind = "removeList"
	StepUpdateRegistry StepKind = "updateRegistry"
	StepMoveList       StepKind = "moveList"
	StepInsertTask     StepKind = "insertTask"
	StepUpdateTask     StepKind = "updateTask"
	StepRemoveTask     StepKind = "removeTask"
	StepMoveTask       StepKind = "moveTask"
	StepRenameList     StepKind = "renameList"
)

// Step is one CRDT mutation to regenerate. ListID names the target task
// list for every task-scoped kind; it is unused for the registry kinds.
// Pos, when set, captures an exact prior position (for the inverse of a
// remove, or of a move) so replay restores the precise spot rather than
// an approximate one computed from neighbours that may have since moved.
type Step struct {
	Kind    StepKind
	ListID  string
	ID      string
	Title   string
	Text    string
	Partial map[string]any
	Pos     position.Position
}

// Action is a single undo/redo history entry: the operations a mutation
// actually produced, and the operations that exactly reverse it.
type Action struct {
	Forward []Step
	Inverse []Step

	// CreatedAt is supplied by the caller (the repository, against its
	// own wall-clock source) rather than stamped here, so history
	// behaviour stays deterministic under test.
	CreatedAt time.Time

	// CoalesceKey, when non-empty, lets a Record call within the
	// coalescing window collapse into the current top-of-undo-stack
	// entry sharing the same key, rather than pushing a new one. Typical
	// key shape: "listId|itemId|field".
	CoalesceKey string
}

// History is the global, single-threaded undo/redo stack pair.
type History struct {
	mu     sync.Mutex
	window time.Duration
	undo   []Action
	redo   []Action
}

// New creates an empty History that coalesces same-key actions recorded
// within window of each other (the spec's reference window is 500ms).
func New(window time.Duration) *History {
	return &History{window: window}
}

// Record pushes a new forward/inverse action. If a is coalescible with
// the current top of the undo stack (same non-empty CoalesceKey, within
// window), it replaces that entry's Forward and CreatedAt while keeping
// the original entry's Inverse — the oldest still-valid "undo this whole
// burst" operation. Any Record call clears the redo stack.
func (h *History) Record(a Action) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if a.CoalesceKey != "" && len(h.undo) > 0 {
		top := &h.undo[len(h.undo)-1]
		if top.CoalesceKey == a.CoalesceKey && !a.CreatedAt.After(top.CreatedAt.Add(h.window)) {
			top.Forward = a.Forward
			top.CreatedAt = a.CreatedAt
			h.redo = nil
			return
		}
	}
	h.undo = append(h.undo, a)
	h.redo = nil
}

// Undo pops the top undo entry and returns it (Inverse is what the
// caller should apply), pushing it onto the redo stack. Reports false
// when there is nothing to undo.
func (h *History) Undo() (Action, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.undo) == 0 {
		return Action{}, false
	}
	n := len(h.undo) - 1
	a := h.undo[n]
	h.undo = h.undo[:n]
	h.redo = append(h.redo, a)
	return a, true
}

// Redo pops the top redo entry and returns it (Forward is what the
// caller should apply), pushing it back onto the undo stack. Reports
// false when there is nothing to redo.
func (h *History) Redo() (Action, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.redo) == 0 {
		return Action{}, false
	}
	n := len(h.redo) - 1
	a := h.redo[n]
	h.redo = h.redo[:n]
	h.undo = append(h.undo, a)
	return a, true
}

// Reset discards both stacks. A dataset-generation reset replaces the
// entire local dataset wholesale rather than applying a user edit, so any
// previously recorded action's inverse would no longer describe a
// meaningful operation against the new state.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = nil
	h.redo = nil
}

// UndoLen and RedoLen report stack depth, for tests and UI enablement.
func (h *History) UndoLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo)
}

func (h *History) RedoLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo)
}
