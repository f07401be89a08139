// Package tasklist implements the Task-list CRDT: an ordered set of tasks
// (text, done, note) belonging to one list, plus a list-level title with
// its own, simpler last-writer-wins rule.
package tasklist

import (
	"github.com/listsync/listsync/internal/crdt"
)

// Payload is the per-task data the task list's ordered set carries.
type Payload struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
	Note string `json:"note"`
}

type merger struct{}

func (merger) Fields(Payload) []string { return []string{"text", "done", "note"} }

func (merger) ToPartial(data Payload) map[string]any {
	return map[string]any{"text": data.Text, "done": data.Done, "note": data.Note}
}

func (merger) Merge(data Payload, partial map[string]any, opClock int64, opActor string, winners map[string]crdt.Winner) (Payload, map[string]crdt.Winner) {
	merged := data
	out := make(map[string]crdt.Winner, len(winners)+3)
	for k, v := range winners {
		out[k] = v
	}
	if v, ok := partial["text"].(string); ok {
		if w := out["text"]; w.BeatenBy(opClock, opActor) {
			merged.Text = v
			out["text"] = crdt.Winner{Clock: opClock, Actor: opActor}
		}
	}
	if v, ok := partial["done"].(bool); ok {
		if w := out["done"]; w.BeatenBy(opClock, opActor) {
			merged.Done = v
			out["done"] = crdt.Winner{Clock: opClock, Actor: opActor}
		}
	}
	if v, ok := partial["note"].(string); ok {
		if w := out["note"]; w.BeatenBy(opClock, opActor) {
			merged.Note = v
			out["note"] = crdt.Winner{Clock: opClock, Actor: opActor}
		}
	}
	return merged, out
}

// Op is a list-scoped task operation, ready for the sync envelope.
type Op = crdt.Op[Payload]

// Entry is one task as it appears in the list.
type Entry = crdt.Entry[Payload]

// RenameOp is the list-level title rename, carried outside the ordered-
// set machinery: its winner is decided by the highest clock alone, with
// no actor tie-break (unlike every field inside the ordered set).
type RenameOp struct {
	Actor string
	Clock int64
	Title string
}

// List is the CRDT for one list's tasks plus its own title.
type List struct {
	set   *crdt.Set[Payload]
	title string
	// titleClock/titleActor record the (clock, actor) of the winning
	// rename so far; titleActor is provenance only — it never breaks a
	// tie (see ApplyRename).
	titleClock int64
	titleActor string
}

// New creates an empty, titled List owned by actor.
func New(actor, title string) *List {
	return &List{set: crdt.New[Payload](actor, merger{}), title: title}
}

// FromSet wraps an already-hydrated generic set and title state, used by
// the hydrator when rebuilding a List from a persisted snapshot.
func FromSet(set *crdt.Set[Payload], title string, titleClock int64, titleActor string) *List {
	return &List{set: set, title: title, titleClock: titleClock, titleActor: titleActor}
}

// ResetFromSnapshot replaces l's entire entry set, clock and title
// bookkeeping with externally decoded state, for the hydrator. l keeps
// its own actor id; only the data is replaced.
func (l *List) ResetFromSnapshot(clockValue int64, entries []crdt.RestoredEntry[Payload], title string, titleClock int64, titleActor string) {
	l.set.ResetFromSnapshot(clockValue, entries)
	l.title = title
	l.titleClock = titleClock
	l.titleActor = titleActor
}

// Set returns the underlying generic ordered-set instance.
func (l *List) Set() *crdt.Set[Payload] { return l.set }

// Actor returns the owning actor id.
func (l *List) Actor() string { return l.set.Actor() }

// Clock returns the instance's current Lamport clock value.
func (l *List) Clock() int64 { return l.set.Clock() }

// Title returns the list's current title.
func (l *List) Title() string { return l.title }

// TitleClock returns the clock of the last accepted rename, for snapshot
// serialisation.
func (l *List) TitleClock() int64 { return l.titleClock }

// TitleActor returns the actor of the last accepted rename.
func (l *List) TitleActor() string { return l.titleActor }

// Tasks returns the live tasks in display order.
func (l *List) Tasks() []Entry { return l.set.Entries() }

// GenerateInsert creates a new task, placed between the tasks named by
// afterID/beforeID.
func (l *List) GenerateInsert(id, text string, afterID, beforeID string) (Op, error) {
	return l.set.GenerateInsert(id, Payload{Text: text}, afterID, beforeID)
}

// GenerateUpdate partially updates a task's text and/or note.
func (l *List) GenerateUpdate(id string, partial map[string]any) (Op, error) {
	return l.set.GenerateUpdate(id, partial)
}

// GenerateToggle flips a task's done flag.
func (l *List) GenerateToggle(id string, done bool) (Op, error) {
	return l.set.GenerateUpdate(id, map[string]any{"done": done})
}

// GenerateMove repositions an existing task.
func (l *List) GenerateMove(id, afterID, beforeID string) (Op, error) {
	return l.set.GenerateMove(id, afterID, beforeID)
}

// GenerateRemove tombstones a task.
func (l *List) GenerateRemove(id string) (Op, error) {
	return l.set.GenerateRemove(id)
}

// Apply applies a locally or remotely originated task operation.
func (l *List) Apply(op Op) (bool, error) { return l.set.Apply(op) }

// GenerateRename retitles the list itself and locally applies the result.
func (l *List) GenerateRename(title string) RenameOp {
	op := RenameOp{Actor: l.set.Actor(), Clock: l.set.NextClock(), Title: title}
	l.ApplyRename(op)
	return op
}

// ApplyRename applies a locally or remotely originated rename. The
// highest clock always wins; a clock equal to the current one is a
// no-op when the title already matches, and is resolved in favour of
// keeping the existing title otherwise (spec does not define an actor
// tie-break for this particular rule, unlike every per-field update in
// the generic ordered-set machinery).
func (l *List) ApplyRename(op RenameOp) bool {
	l.set.ObserveClock(op.Clock)
	switch {
	case op.Clock < l.titleClock:
		return false
	case op.Clock == l.titleClock:
		return false
	default:
		l.title = op.Title
		l.titleClock = op.Clock
		l.titleActor = op.Actor
		return true
	}
}
