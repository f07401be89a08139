// Package registry implements the Registry CRDT: an ordered set of the
// user's lists, each carrying a title, specialised from the generic
// ordered-set engine.
package registry

import (
	"github.com/listsync/listsync/internal/crdt"
	"github.com/listsync/listsync/internal/position"
)

// Payload is the per-list data the registry's ordered set carries.
type Payload struct {
	Title string `json:"title"`
}

type merger struct{}

func (merger) Fields(Payload) []string { return []string{"title"} }

func (merger) ToPartial(data Payload) map[string]any {
	return map[string]any{"title": data.Title}
}

func (merger) Merge(data Payload, partial map[string]any, opClock int64, opActor string, winners map[string]crdt.Winner) (Payload, map[string]crdt.Winner) {
	merged := data
	out := make(map[string]crdt.Winner, len(winners)+1)
	for k, v := range winners {
		out[k] = v
	}
	if title, ok := partial["title"].(string); ok {
		w := out["title"]
		if w.BeatenBy(opClock, opActor) {
			merged.Title = title
			out["title"] = crdt.Winner{Clock: opClock, Actor: opActor}
		}
	}
	return merged, out
}

// Op is a registry-scoped operation, ready for the sync envelope.
type Op = crdt.Op[Payload]

// Entry is one list entry as it appears in the registry.
type Entry = crdt.Entry[Payload]

// Registry is the CRDT of a user's lists and their display order.
type Registry struct {
	set *crdt.Set[Payload]
}

// New creates an empty Registry owned by actor.
func New(actor string) *Registry {
	return &Registry{set: crdt.New[Payload](actor, merger{})}
}

// FromSet wraps an already-hydrated generic set. The hydrator does not use
// it; it decodes a snapshot straight into New(actor).Set().
func FromSet(set *crdt.Set[Payload]) *Registry {
	return &Registry{set: set}
}

// Set returns the underlying generic ordered-set instance, for the
// hydrator and codec which operate on it directly.
func (r *Registry) Set() *crdt.Set[Payload] { return r.set }

// Actor returns the owning actor id.
func (r *Registry) Actor() string { return r.set.Actor() }

// Clock returns the instance's current Lamport clock value.
func (r *Registry) Clock() int64 { return r.set.Clock() }

// Lists returns the live lists in display order.
func (r *Registry) Lists() []Entry { return r.set.Entries() }

// GenerateInsert creates a new list titled title, placed between the
// lists named by afterID/beforeID.
func (r *Registry) GenerateInsert(id, title, afterID, beforeID string) (Op, error) {
	return r.set.GenerateInsert(id, Payload{Title: title}, afterID, beforeID)
}

// GenerateRename retitles an existing list. It is routed through the
// ordinary per-field LWW machinery — (clock, actor) decides the winner,
// exactly as any other field update would.
func (r *Registry) GenerateRename(id, title string) (Op, error) {
	return r.set.GenerateUpdate(id, map[string]any{"title": title})
}

// GenerateMove repositions an existing list.
func (r *Registry) GenerateMove(id, afterID, beforeID string) (Op, error) {
	return r.set.GenerateMove(id, afterID, beforeID)
}

// GenerateRemove tombstones a list.
func (r *Registry) GenerateRemove(id string) (Op, error) {
	return r.set.GenerateRemove(id)
}

// Apply applies a locally or remotely originated registry operation.
func (r *Registry) Apply(op Op) (bool, error) { return r.set.Apply(op) }

// PositionBetween exposes the raw position algebra for callers that need a
// position without going through an insert/move generator. The
// repository's cross-list move does not use it; it places the task with
// the destination list's own GenerateInsert.
func PositionBetween(left, right position.Position, actor string) (position.Position, error) {
	return position.Between(left, right, actor)
}
