// Package crdt implements the generic ordered-set CRDT: insert, update,
// move and remove over a caller-supplied payload type, with tombstones and
// per-field last-writer-wins keyed by (clock, actor).
package crdt

import (
	"errors"
	"sort"
	"time"

	"github.com/listsync/listsync/internal/clock"
	"github.com/listsync/listsync/internal/position"
)

// ErrInvalidOperation covers a missing id/actor/clock or an unknown
// operation type.
var ErrInvalidOperation = errors.New("crdt: invalid operation")

// ErrNotFound is returned by locally originated move/update generators
// against an id the caller doesn't control. Remote apply of these never
// fails this way; it becomes a no-op instead.
var ErrNotFound = errors.New("crdt: entry not found")

// ErrPositionConflict is returned by the position generator when the
// caller's neighbours are not in the order they claim.
var ErrPositionConflict = errors.New("crdt: left position is not less than right position")

// OpType names one of the four operations an ordered-set CRDT accepts.
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpMove   OpType = "move"
	OpRemove OpType = "remove"
)

// Op is a single, self-contained operation against an ordered-set CRDT
// instance, in the shape the sync engine pushes and pulls.
type Op[T any] struct {
	Type    OpType
	ID      string
	Actor   string
	Clock   int64
	Pos     position.Position `json:",omitempty"` // insert, move
	Partial map[string]any    `json:",omitempty"` // update
	Data    T                 `json:",omitempty"` // insert
}

// Winner records which (clock, actor) last won a single field.
type Winner struct {
	Clock int64
	Actor string
}

// BeatenBy reports whether an operation carrying (clock, actor) wins over
// the recorded winner w, per the (clock, actor) lexicographic order the
// rest of the core uses for every LWW decision.
func (w Winner) BeatenBy(clock int64, actor string) bool {
	if clock != w.Clock {
		return clock > w.Clock
	}
	return actor > w.Actor
}

// FieldMerger teaches the generic engine how to overlay a partial update
// onto a concrete payload type T, and which field names that payload
// carries (used to seed per-field winners on insert).
type FieldMerger[T any] interface {
	// Fields lists every field name data carries. Called only to seed
	// winners for a freshly inserted entry.
	Fields(data T) []string
	// ToPartial renders a full payload as a partial map, used when an
	// insert lands on an id that is already live and must be folded in as
	// an update against the existing entry.
	ToPartial(data T) map[string]any
	// Merge applies partial's recognised fields onto data wherever the
	// incoming (opClock, opActor) supersedes the recorded winner for that
	// field, returning the merged payload and the updated winner map.
	// winners is never mutated in place; callers receive and must use the
	// returned map.
	Merge(data T, partial map[string]any, opClock int64, opActor string, winners map[string]Winner) (T, map[string]Winner)
}

// Entry is one member — live or tombstoned — of an ordered-set CRDT.
type Entry[T any] struct {
	ID   string
	Pos  position.Position
	Data T

	CreatedAt time.Time
	UpdatedAt time.Time

	// PosClock/PosActor record the (clock, actor) of the last insert or
	// move, the pair a concurrent move is arbitrated against.
	PosClock int64
	PosActor string

	// DeletedAt is the clock of the remove that tombstoned this entry, or
	// nil if the entry is live. It is a logical clock, not a wall time.
	DeletedAt *int64
	DeletedBy string

	fieldWinners map[string]Winner
}

// Tombstoned reports whether the entry has been removed.
func (e Entry[T]) Tombstoned() bool {
	return e.DeletedAt != nil
}

// FieldWinners returns a copy of the entry's per-field LWW bookkeeping,
// for the snapshot codec to persist alongside the entry's data. Without
// this, a late-arriving but genuinely stale update rehydrated after a
// restart could incorrectly win a field it lost before the restart.
func (e Entry[T]) FieldWinners() map[string]Winner {
	out := make(map[string]Winner, len(e.fieldWinners))
	for k, v := range e.fieldWinners {
		out[k] = v
	}
	return out
}

// Clone returns a deep-enough copy of e suitable for handing to callers
// outside the package (the Pos slice and field-winner map are copied; Data
// is copied by value, which is shallow for payload types holding pointers
// or slices — callers should treat those fields as read-only).
func (e Entry[T]) Clone() Entry[T] {
	c := e
	c.Pos = e.Pos.Clone()
	if e.fieldWinners != nil {
		c.fieldWinners = make(map[string]Winner, len(e.fieldWinners))
		for k, v := range e.fieldWinners {
			c.fieldWinners[k] = v
		}
	}
	if e.DeletedAt != nil {
		d := *e.DeletedAt
		c.DeletedAt = &d
	}
	return c
}

type opKey struct {
	Actor string
	Clock int64
	Type  OpType
	ID    string
}

// Set is a generic ordered-set CRDT instance for payload type T.
type Set[T any] struct {
	actor   string
	clock   *clock.Clock
	merger  FieldMerger[T]
	entries map[string]*Entry[T]
	seen    map[opKey]struct{}
	version int64
}

// New creates an empty Set owned by actor.
func New[T any](actor string, merger FieldMerger[T]) *Set[T] {
	return &Set[T]{
		actor:   actor,
		clock:   clock.New(),
		merger:  merger,
		entries: make(map[string]*Entry[T]),
		seen:    make(map[opKey]struct{}),
	}
}

// Actor returns the actor id this instance generates operations under.
func (s *Set[T]) Actor() string { return s.actor }

// Clock returns the instance's current Lamport clock value.
func (s *Set[T]) Clock() int64 { return s.clock.Value() }

// SetClock forces the instance's clock to at least value, used when
// rehydrating from a persisted snapshot whose clock already advanced.
func (s *Set[T]) SetClock(value int64) { s.clock.Merge(value) }

// NextClock mints a new local Lamport clock value for an auxiliary
// operation a specialisation generates outside the generic insert/
// update/move/remove vocabulary (the task-list's list-level rename, for
// instance). It participates in the same per-actor monotonic sequence as
// every other locally generated operation on this instance.
func (s *Set[T]) NextClock() int64 { return s.clock.Tick() }

// ObserveClock folds a remote clock value into the instance's clock
// without advancing it, for specialisations applying an auxiliary remote
// operation that carries its own clock outside the generic Apply path.
func (s *Set[T]) ObserveClock(remote int64) { s.clock.Merge(remote) }

// RestoredEntry is the shape the snapshot codec decodes each entry into,
// passed to ResetFromSnapshot during hydration.
type RestoredEntry[T any] struct {
	ID           string
	Pos          position.Position
	Data         T
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PosClock     int64
	PosActor     string
	DeletedAt    *int64
	DeletedBy    string
	FieldWinners map[string]Winner
}

// ResetFromSnapshot replaces the instance's entire entry set and clock
// with externally decoded state, used by the hydrator to rebuild a Set
// from a persisted snapshot before replaying any op tail on top. It does
// not go through Apply's dedupe machinery — callers own the consistency
// of the supplied state.
func (s *Set[T]) ResetFromSnapshot(clockValue int64, entries []RestoredEntry[T]) {
	s.clock = clock.NewAt(clockValue)
	s.entries = make(map[string]*Entry[T], len(entries))
	s.seen = make(map[opKey]struct{})
	s.version = 0
	for _, re := range entries {
		winners := make(map[string]Winner, len(re.FieldWinners))
		for k, v := range re.FieldWinners {
			winners[k] = v
		}
		s.entries[re.ID] = &Entry[T]{
			ID:           re.ID,
			Pos:          re.Pos.Clone(),
			Data:         re.Data,
			CreatedAt:    re.CreatedAt,
			UpdatedAt:    re.UpdatedAt,
			PosClock:     re.PosClock,
			PosActor:     re.PosActor,
			DeletedAt:    re.DeletedAt,
			DeletedBy:    re.DeletedBy,
			fieldWinners: winners,
		}
	}
}

// Version increases on every apply that changed an entry's state (Apply
// returned true), including changes to a tombstoned entry that Entries()
// does not show, and is cheap for callers to use as a cache invalidation
// signal for derived snapshots.
func (s *Set[T]) Version() int64 { return s.version }

// Get returns the live entry for id, if any.
func (s *Set[T]) Get(id string) (Entry[T], bool) {
	e, ok := s.entries[id]
	if !ok || e.Tombstoned() {
		return Entry[T]{}, false
	}
	return e.Clone(), true
}

// GetAny returns the entry for id whether live or tombstoned, for callers
// that need tombstones too (snapshot codec, undo).
func (s *Set[T]) GetAny(id string) (Entry[T], bool) {
	e, ok := s.entries[id]
	if !ok {
		return Entry[T]{}, false
	}
	return e.Clone(), true
}

// Entries returns every live entry ordered by Pos ascending, with id as
// the deterministic tie-break for positions that compare equal.
func (s *Set[T]) Entries() []Entry[T] {
	out := make([]Entry[T], 0, len(s.entries))
	for _, e := range s.entries {
		if !e.Tombstoned() {
			out = append(out, e.Clone())
		}
	}
	sortEntries(out)
	return out
}

// All returns every entry, live and tombstoned, in the same order as
// Entries for the live subset; tombstones are appended after, sorted by
// id, since their position is no longer semantically meaningful.
func (s *Set[T]) All() []Entry[T] {
	var live, dead []Entry[T]
	for _, e := range s.entries {
		if e.Tombstoned() {
			dead = append(dead, e.Clone())
		} else {
			live = append(live, e.Clone())
		}
	}
	sortEntries(live)
	sort.Slice(dead, func(i, j int) bool { return dead[i].ID < dead[j].ID })
	return append(live, dead...)
}

func sortEntries[T any](entries []Entry[T]) {
	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].Pos.Compare(entries[j].Pos); c != 0 {
			return c < 0
		}
		return entries[i].ID < entries[j].ID
	})
}

func (s *Set[T]) neighbourPos(id string) (position.Position, bool) {
	if id == "" {
		return nil, false
	}
	e, ok := s.entries[id]
	if !ok || e.Tombstoned() {
		return nil, false
	}
	return e.Pos, true
}

// positionBetween resolves a caller's afterID/beforeID into neighbour
// positions and calls the position algebra.
func (s *Set[T]) positionBetween(afterID, beforeID string) (position.Position, error) {
	var left, right position.Position
	if afterID != "" {
		p, ok := s.neighbourPos(afterID)
		if !ok {
			return nil, ErrNotFound
		}
		left = p
	}
	if beforeID != "" {
		p, ok := s.neighbourPos(beforeID)
		if !ok {
			return nil, ErrNotFound
		}
		right = p
	}
	pos, err := position.Between(left, right, s.actor)
	if errors.Is(err, position.ErrInvalidOrdering) {
		return nil, ErrPositionConflict
	}
	return pos, err
}

// GenerateInsert creates and locally applies an insert of a new entry with
// the given id and payload, placed between the entries named by afterID
// and beforeID (either may be empty, meaning "no neighbour on that side").
// Callers that already know the target position may pass it directly via
// GenerateInsertAt.
func (s *Set[T]) GenerateInsert(id string, data T, afterID, beforeID string) (Op[T], error) {
	pos, err := s.positionBetween(afterID, beforeID)
	if err != nil {
		return Op[T]{}, err
	}
	return s.GenerateInsertAt(id, data, pos)
}

// GenerateInsertAt creates and locally applies an insert at an explicit,
// already-computed position.
func (s *Set[T]) GenerateInsertAt(id string, data T, pos position.Position) (Op[T], error) {
	if id == "" || pos.Empty() {
		return Op[T]{}, ErrInvalidOperation
	}
	op := Op[T]{
		Type:  OpInsert,
		ID:    id,
		Actor: s.actor,
		Clock: s.clock.Tick(),
		Pos:   pos,
		Data:  data,
	}
	if _, err := s.Apply(op); err != nil {
		return Op[T]{}, err
	}
	return op, nil
}

// GenerateUpdate creates and locally applies a partial update.
func (s *Set[T]) GenerateUpdate(id string, partial map[string]any) (Op[T], error) {
	if id == "" {
		return Op[T]{}, ErrInvalidOperation
	}
	if _, ok := s.entries[id]; !ok {
		return Op[T]{}, ErrNotFound
	}
	op := Op[T]{
		Type:    OpUpdate,
		ID:      id,
		Actor:   s.actor,
		Clock:   s.clock.Tick(),
		Partial: partial,
	}
	if _, err := s.Apply(op); err != nil {
		return Op[T]{}, err
	}
	return op, nil
}

// GenerateMove creates and locally applies a reposition of an existing
// entry between the entries named by afterID/beforeID.
func (s *Set[T]) GenerateMove(id string, afterID, beforeID string) (Op[T], error) {
	if id == "" {
		return Op[T]{}, ErrInvalidOperation
	}
	if _, ok := s.entries[id]; !ok {
		return Op[T]{}, ErrNotFound
	}
	pos, err := s.positionBetween(afterID, beforeID)
	if err != nil {
		return Op[T]{}, err
	}
	return s.GenerateMoveAt(id, pos)
}

// GenerateMoveAt creates and locally applies a reposition of an existing
// entry to an explicit, already-computed position. Callers that captured an
// exact prior position (undo/redo restoring a move or a remove) use this
// instead of GenerateMove, since the neighbours used to derive a relative
// position may themselves have moved since the position was captured.
func (s *Set[T]) GenerateMoveAt(id string, pos position.Position) (Op[T], error) {
	if id == "" || pos.Empty() {
		return Op[T]{}, ErrInvalidOperation
	}
	if _, ok := s.entries[id]; !ok {
		return Op[T]{}, ErrNotFound
	}
	op := Op[T]{
		Type:  OpMove,
		ID:    id,
		Actor: s.actor,
		Clock: s.clock.Tick(),
		Pos:   pos,
	}
	if _, err := s.Apply(op); err != nil {
		return Op[T]{}, err
	}
	return op, nil
}

// GenerateRemove creates and locally applies a tombstone of an existing
// entry.
func (s *Set[T]) GenerateRemove(id string) (Op[T], error) {
	if id == "" {
		return Op[T]{}, ErrInvalidOperation
	}
	if _, ok := s.entries[id]; !ok {
		return Op[T]{}, ErrNotFound
	}
	op := Op[T]{
		Type:  OpRemove,
		ID:    id,
		Actor: s.actor,
		Clock: s.clock.Tick(),
	}
	if _, err := s.Apply(op); err != nil {
		return Op[T]{}, err
	}
	return op, nil
}

// Apply applies op — whether locally generated a moment ago or received
// from a remote actor through the sync engine — and reports whether it
// changed an entry's state. A change recorded against a tombstoned entry
// (a late update winning a field, a newer position) counts even though
// the entry stays out of Entries(). Apply is idempotent: replaying the same
// (actor, clock, type, id) again is always a no-op.
func (s *Set[T]) Apply(op Op[T]) (bool, error) {
	if op.ID == "" || op.Actor == "" || op.Clock <= 0 {
		return false, ErrInvalidOperation
	}

	key := opKey{Actor: op.Actor, Clock: op.Clock, Type: op.Type, ID: op.ID}
	if _, dup := s.seen[key]; dup {
		s.clock.Merge(op.Clock)
		return false, nil
	}
	s.seen[key] = struct{}{}

	var changed bool
	var err error
	switch op.Type {
	case OpInsert:
		changed, err = s.applyInsert(op)
	case OpUpdate:
		changed, err = s.applyUpdate(op)
	case OpMove:
		changed, err = s.applyMove(op)
	case OpRemove:
		changed, err = s.applyRemove(op)
	default:
		return false, ErrInvalidOperation
	}
	if err != nil {
		return false, err
	}

	s.clock.Merge(op.Clock)
	if changed {
		s.version++
	}
	return changed, nil
}

func (s *Set[T]) applyInsert(op Op[T]) (bool, error) {
	if op.Pos.Empty() {
		return false, ErrInvalidOperation
	}
	existing, ok := s.entries[op.ID]
	if !ok {
		now := time.Now()
		winners := make(map[string]Winner)
		if s.merger != nil {
			for _, f := range s.merger.Fields(op.Data) {
				winners[f] = Winner{Clock: op.Clock, Actor: op.Actor}
			}
		}
		s.entries[op.ID] = &Entry[T]{
			ID:           op.ID,
			Pos:          op.Pos.Clone(),
			Data:         op.Data,
			CreatedAt:    now,
			UpdatedAt:    now,
			PosClock:     op.Clock,
			PosActor:     op.Actor,
			fieldWinners: winners,
		}
		return true, nil
	}

	if existing.Tombstoned() {
		// Resurrect only when this insert's clock exceeds the deletion
		// clock; otherwise ignore the payload but still remember a later
		// position for ordering late survivors.
		changed := false
		if op.Clock > *existing.DeletedAt {
			changed = true
			existing.DeletedAt = nil
			existing.DeletedBy = ""
			existing.Data = op.Data
			existing.UpdatedAt = time.Now()
			if s.merger != nil {
				winners := make(map[string]Winner, len(existing.fieldWinners))
				for k, v := range existing.fieldWinners {
					winners[k] = v
				}
				for _, f := range s.merger.Fields(op.Data) {
					winners[f] = Winner{Clock: op.Clock, Actor: op.Actor}
				}
				existing.fieldWinners = winners
			}
		}
		if op.Clock > existing.PosClock || (op.Clock == existing.PosClock && op.Actor > existing.PosActor) {
			existing.Pos = op.Pos.Clone()
			existing.PosClock = op.Clock
			existing.PosActor = op.Actor
			changed = true
		}
		return changed, nil
	}

	// Insert on a live id: treated as update + move.
	changedPos := false
	if op.Clock > existing.PosClock || (op.Clock == existing.PosClock && op.Actor > existing.PosActor) {
		existing.Pos = op.Pos.Clone()
		existing.PosClock = op.Clock
		existing.PosActor = op.Actor
		changedPos = true
	}
	changedData := false
	if s.merger != nil {
		partial := s.merger.ToPartial(op.Data)
		merged, winners := s.merger.Merge(existing.Data, partial, op.Clock, op.Actor, existing.fieldWinners)
		if !winnersEqual(winners, existing.fieldWinners) {
			changedData = true
		}
		existing.Data = merged
		existing.fieldWinners = winners
	}
	if changedData {
		existing.UpdatedAt = time.Now()
	}
	return changedPos || changedData, nil
}

func (s *Set[T]) applyUpdate(op Op[T]) (bool, error) {
	existing, ok := s.entries[op.ID]
	if !ok {
		// Remote update for an id this replica hasn't seen an insert for
		// yet (out-of-order delivery). Nothing to merge into; the op log
		// dedupe key still records it as seen so a later re-delivery is a
		// no-op, but there is no entry to mutate.
		return false, nil
	}
	if s.merger == nil {
		return false, nil
	}
	merged, winners := s.merger.Merge(existing.Data, op.Partial, op.Clock, op.Actor, existing.fieldWinners)
	if winnersEqual(winners, existing.fieldWinners) {
		return false, nil
	}
	existing.Data = merged
	existing.fieldWinners = winners
	existing.UpdatedAt = time.Now()
	return true, nil
}

func (s *Set[T]) applyMove(op Op[T]) (bool, error) {
	if op.Pos.Empty() {
		return false, ErrInvalidOperation
	}
	existing, ok := s.entries[op.ID]
	if !ok {
		return false, nil
	}
	if op.Clock <= existing.PosClock {
		return false, nil
	}
	existing.Pos = op.Pos.Clone()
	existing.PosClock = op.Clock
	existing.PosActor = op.Actor
	return true, nil
}

func (s *Set[T]) applyRemove(op Op[T]) (bool, error) {
	existing, ok := s.entries[op.ID]
	if !ok {
		return false, nil
	}
	if existing.DeletedAt != nil && op.Clock <= *existing.DeletedAt {
		return false, nil
	}
	deletedAt := op.Clock
	existing.DeletedAt = &deletedAt
	existing.DeletedBy = op.Actor
	return true, nil
}

func winnersEqual(a, b map[string]Winner) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
