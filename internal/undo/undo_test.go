package undo

import (
	"testing"
	"time"
)

func at(ms int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(ms) * time.Millisecond)
}

func textStep(text string) []Step {
	return []Step{{Kind: StepUpdateTask, ListID: "l1", ID: "t1", Partial: map[string]any{"text": text}}}
}

func TestUndoRedoBasicRoundTrip(t *testing.T) {
	h := New(500 * time.Millisecond)
	h.Record(Action{Forward: textStep("Hi"), Inverse: textStep(""), CreatedAt: at(0)})

	a, ok := h.Undo()
	if !ok {
		t.Fatalf("expected an undo entry")
	}
	if a.Inverse[0].Partial["text"] != "" {
		t.Fatalf("expected inverse to restore empty text, got %+v", a.Inverse)
	}
	if h.UndoLen() != 0 || h.RedoLen() != 1 {
		t.Fatalf("expected undo stack empty and redo stack depth 1, got undo=%d redo=%d", h.UndoLen(), h.RedoLen())
	}

	a, ok = h.Redo()
	if !ok {
		t.Fatalf("expected a redo entry")
	}
	if a.Forward[0].Partial["text"] != "Hi" {
		t.Fatalf("expected forward to reapply %q, got %+v", "Hi", a.Forward)
	}
	if h.UndoLen() != 1 || h.RedoLen() != 0 {
		t.Fatalf("expected undo depth 1 and redo empty after redo, got undo=%d redo=%d", h.UndoLen(), h.RedoLen())
	}
}

func TestUndoOnEmptyStackReportsFalse(t *testing.T) {
	h := New(500 * time.Millisecond)
	if _, ok := h.Undo(); ok {
		t.Fatalf("expected Undo on an empty stack to report false")
	}
	if _, ok := h.Redo(); ok {
		t.Fatalf("expected Redo on an empty stack to report false")
	}
}

func TestRecordClearsRedoStack(t *testing.T) {
	h := New(500 * time.Millisecond)
	h.Record(Action{Forward: textStep("a"), Inverse: textStep(""), CreatedAt: at(0)})
	h.Undo()
	if h.RedoLen() != 1 {
		t.Fatalf("expected one redo entry before a new action")
	}
	h.Record(Action{Forward: textStep("b"), Inverse: textStep(""), CreatedAt: at(1000)})
	if h.RedoLen() != 0 {
		t.Fatalf("expected a new user action to clear the redo stack")
	}
}

func TestConsecutiveCoalescingWithinWindowCollapsesToOneEntry(t *testing.T) {
	h := New(500 * time.Millisecond)
	key := "l1|t1|text"

	h.Record(Action{Forward: textStep("He"), Inverse: textStep(""), CreatedAt: at(0), CoalesceKey: key})
	h.Record(Action{Forward: textStep("Hel"), Inverse: textStep("He"), CreatedAt: at(100), CoalesceKey: key})
	h.Record(Action{Forward: textStep("Hell"), Inverse: textStep("Hel"), CreatedAt: at(200), CoalesceKey: key})

	if h.UndoLen() != 1 {
		t.Fatalf("expected 3 rapid same-key edits to collapse into 1 entry, got %d", h.UndoLen())
	}
	a, _ := h.Undo()
	if a.Forward[0].Partial["text"] != "Hell" {
		t.Fatalf("expected collapsed forward to be the latest edit %q, got %+v", "Hell", a.Forward)
	}
	if a.Inverse[0].Partial["text"] != "" {
		t.Fatalf("expected collapsed inverse to be the first captured prior value %q, got %+v", "", a.Inverse)
	}
}

func TestEditOutsideWindowStartsANewCoalescedEntry(t *testing.T) {
	h := New(500 * time.Millisecond)
	key := "l1|t1|text"

	h.Record(Action{Forward: textStep("He"), Inverse: textStep(""), CreatedAt: at(0), CoalesceKey: key})
	h.Record(Action{Forward: textStep("Hel"), Inverse: textStep("He"), CreatedAt: at(100), CoalesceKey: key})
	// 900ms after the last coalesced edit: well past the window, starts a
	// fresh entry rather than collapsing.
	h.Record(Action{Forward: textStep("Hello"), Inverse: textStep("Hel"), CreatedAt: at(1000), CoalesceKey: key})

	if h.UndoLen() != 2 {
		t.Fatalf("expected a late edit to start a new entry, got %d undo entries", h.UndoLen())
	}
	first, _ := h.Undo()
	if first.Forward[0].Partial["text"] != "Hello" {
		t.Fatalf("expected first undo to revert the late edit, got %+v", first.Forward)
	}
	second, _ := h.Undo()
	if second.Forward[0].Partial["text"] != "Hel" {
		t.Fatalf("expected second undo to revert the coalesced burst, got %+v", second.Forward)
	}
}

func TestDifferentCoalesceKeyDoesNotCollapse(t *testing.T) {
	h := New(500 * time.Millisecond)
	h.Record(Action{Forward: textStep("a"), Inverse: textStep(""), CreatedAt: at(0), CoalesceKey: "l1|t1|text"})
	h.Record(Action{Forward: textStep("b"), Inverse: textStep(""), CreatedAt: at(50), CoalesceKey: "l1|t2|text"})
	if h.UndoLen() != 2 {
		t.Fatalf("expected different coalesce keys to never collapse, got %d", h.UndoLen())
	}
}
