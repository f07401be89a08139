// Package codec implements the versioned wire encoding for ordered-set
// CRDT snapshots, operations, and the full-dataset export format.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/listsync/listsync/internal/crdt"
	"github.com/listsync/listsync/internal/position"
)

const (
	snapshotSchema  = "listsync.snapshot"
	snapshotVersion = 1

	exportSchema  = "listsync.export"
	exportVersion = 1
)

// wireComponent is the wire form of one position.Component.
type wireComponent struct {
	Digit int64  `json:"digit"`
	Actor string `json:"actor"`
}

// wireWinner is the wire form of a crdt.Winner.
type wireWinner struct {
	Clock int64  `json:"clock"`
	Actor string `json:"actor"`
}

// wireEntry is the wire form of one crdt.Entry, parameterised by payload.
type wireEntry[T any] struct {
	ID           string                `json:"id"`
	Pos          []wireComponent       `json:"pos"`
	Data         T                     `json:"data"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
	PosClock     int64                 `json:"posClock"`
	PosActor     string                `json:"posActor"`
	DeletedAt    *int64                `json:"deletedAt,omitempty"`
	DeletedBy    string                `json:"deletedBy,omitempty"`
	FieldWinners map[string]wireWinner `json:"fieldWinners,omitempty"`
}

type snapshotData[T any] struct {
	Clock   int64          `json:"clock"`
	Entries []wireEntry[T] `json:"entries"`
}

// Snapshot is the versioned envelope wrapping one ordered-set CRDT's
// full persisted state.
type Snapshot[T any] struct {
	Schema  string         `json:"schema"`
	Version int            `json:"version"`
	Data    snapshotData[T] `json:"data"`
}

// EncodeSnapshot serialises a Set's full state (live and tombstoned
// entries) into the versioned snapshot wire form.
func EncodeSnapshot[T any](set *crdt.Set[T]) ([]byte, error) {
	all := set.All()
	entries := make([]wireEntry[T], 0, len(all))
	for _, e := range all {
		entries = append(entries, toWireEntry(e))
	}
	env := Snapshot[T]{
		Schema:  snapshotSchema,
		Version: snapshotVersion,
		Data:    snapshotData[T]{Clock: set.Clock(), Entries: entries},
	}
	return json.Marshal(env)
}

func toWireEntry[T any](e crdt.Entry[T]) wireEntry[T] {
	comps := make([]wireComponent, len(e.Pos))
	for i, c := range e.Pos {
		comps[i] = wireComponent{Digit: c.Digit, Actor: c.Actor}
	}
	var winners map[string]wireWinner
	if fw := e.FieldWinners(); len(fw) > 0 {
		winners = make(map[string]wireWinner, len(fw))
		for k, v := range fw {
			winners[k] = wireWinner{Clock: v.Clock, Actor: v.Actor}
		}
	}
	return wireEntry[T]{
		ID:           e.ID,
		Pos:          comps,
		Data:         e.Data,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
		PosClock:     e.PosClock,
		PosActor:     e.PosActor,
		DeletedAt:    e.DeletedAt,
		DeletedBy:    e.DeletedBy,
		FieldWinners: winners,
	}
}

// DecodeSnapshot parses a versioned snapshot and resets set to the
// decoded state. Invalid or empty entries (no id, or an empty position on
// a live entry) are dropped rather than failing the whole decode.
func DecodeSnapshot[T any](raw []byte, set *crdt.Set[T]) error {
	var env Snapshot[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("codec: decode snapshot: %w", err)
	}
	if env.Schema != snapshotSchema {
		return fmt.Errorf("codec: unexpected snapshot schema %q", env.Schema)
	}

	restored := make([]crdt.RestoredEntry[T], 0, len(env.Data.Entries))
	for _, we := range env.Data.Entries {
		if we.ID == "" {
			continue
		}
		pos := make(position.Position, 0, len(we.Pos))
		for _, c := range we.Pos {
			pos = append(pos, position.Component{Digit: c.Digit, Actor: c.Actor})
		}
		if pos.Empty() && we.DeletedAt == nil {
			// A live entry with no position is invalid; drop it.
			continue
		}
		var winners map[string]crdt.Winner
		if len(we.FieldWinners) > 0 {
			winners = make(map[string]crdt.Winner, len(we.FieldWinners))
			for k, v := range we.FieldWinners {
				winners[k] = crdt.Winner{Clock: v.Clock, Actor: v.Actor}
			}
		}
		restored = append(restored, crdt.RestoredEntry[T]{
			ID:           we.ID,
			Pos:          pos,
			Data:         we.Data,
			CreatedAt:    we.CreatedAt,
			UpdatedAt:    we.UpdatedAt,
			PosClock:     we.PosClock,
			PosActor:     we.PosActor,
			DeletedAt:    we.DeletedAt,
			DeletedBy:    we.DeletedBy,
			FieldWinners: winners,
		})
	}
	set.ResetFromSnapshot(env.Data.Clock, restored)
	return nil
}

// listSnapshotSchema is the wire schema for one task-list's persisted
// state: its ordered-set snapshot plus the list-level title fields that
// live outside the generic ordered-set machinery.
const listSnapshotSchema = "listsync.list-snapshot"
const listSnapshotVersion = 1

type listSnapshotData[T any] struct {
	Title      string         `json:"title"`
	TitleClock int64          `json:"titleClock"`
	TitleActor string         `json:"titleActor"`
	Tasks      snapshotData[T] `json:"tasks"`
}

// ListSnapshot is the versioned envelope for one task-list's full
// persisted state.
type ListSnapshot[T any] struct {
	Schema  string              `json:"schema"`
	Version int                 `json:"version"`
	Data    listSnapshotData[T] `json:"data"`
}

// EncodeListSnapshot serialises a task list's ordered set together with
// its title bookkeeping.
func EncodeListSnapshot[T any](set *crdt.Set[T], title string, titleClock int64, titleActor string) ([]byte, error) {
	all := set.All()
	entries := make([]wireEntry[T], 0, len(all))
	for _, e := range all {
		entries = append(entries, toWireEntry(e))
	}
	env := ListSnapshot[T]{
		Schema:  listSnapshotSchema,
		Version: listSnapshotVersion,
		Data: listSnapshotData[T]{
			Title:      title,
			TitleClock: titleClock,
			TitleActor: titleActor,
			Tasks:      snapshotData[T]{Clock: set.Clock(), Entries: entries},
		},
	}
	return json.Marshal(env)
}

// DecodedListSnapshot is the hydration-ready result of DecodeListSnapshot.
type DecodedListSnapshot[T any] struct {
	Title      string
	TitleClock int64
	TitleActor string
	Clock      int64
	Entries    []crdt.RestoredEntry[T]
}

// DecodeListSnapshot parses a versioned list snapshot. It does not reset
// a Set itself (unlike DecodeSnapshot) because tasklist.FromSet needs the
// title fields at construction time; callers wire the result's Entries
// and Clock into a fresh Set via ResetFromSnapshot themselves.
func DecodeListSnapshot[T any](raw []byte) (DecodedListSnapshot[T], error) {
	var env ListSnapshot[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return DecodedListSnapshot[T]{}, fmt.Errorf("codec: decode list snapshot: %w", err)
	}
	if env.Schema != listSnapshotSchema {
		return DecodedListSnapshot[T]{}, fmt.Errorf("codec: unexpected list snapshot schema %q", env.Schema)
	}
	restored := make([]crdt.RestoredEntry[T], 0, len(env.Data.Tasks.Entries))
	for _, we := range env.Data.Tasks.Entries {
		if we.ID == "" {
			continue
		}
		pos := make(position.Position, 0, len(we.Pos))
		for _, c := range we.Pos {
			pos = append(pos, position.Component{Digit: c.Digit, Actor: c.Actor})
		}
		if pos.Empty() && we.DeletedAt == nil {
			continue
		}
		var winners map[string]crdt.Winner
		if len(we.FieldWinners) > 0 {
			winners = make(map[string]crdt.Winner, len(we.FieldWinners))
			for k, v := range we.FieldWinners {
				winners[k] = crdt.Winner{Clock: v.Clock, Actor: v.Actor}
			}
		}
		restored = append(restored, crdt.RestoredEntry[T]{
			ID:           we.ID,
			Pos:          pos,
			Data:         we.Data,
			CreatedAt:    we.CreatedAt,
			UpdatedAt:    we.UpdatedAt,
			PosClock:     we.PosClock,
			PosActor:     we.PosActor,
			DeletedAt:    we.DeletedAt,
			DeletedBy:    we.DeletedBy,
			FieldWinners: winners,
		})
	}
	return DecodedListSnapshot[T]{
		Title:      env.Data.Title,
		TitleClock: env.Data.TitleClock,
		TitleActor: env.Data.TitleActor,
		Clock:      env.Data.Tasks.Clock,
		Entries:    restored,
	}, nil
}

// EncodeOp serialises a single operation for the op log / outbox. Unset
// optional fields (Pos, Partial, Data's zero value) are simply whatever
// json.Marshal produces for them — the struct tags on crdt.Op already
// carry omitempty, so this is a thin, explicit entry point callers can
// depend on instead of reaching for encoding/json directly.
func EncodeOp[T any](op crdt.Op[T]) ([]byte, error) {
	return json.Marshal(op)
}

// DecodeOp parses a single operation, filling absent optional fields with
// their zero values.
func DecodeOp[T any](raw []byte) (crdt.Op[T], error) {
	var op crdt.Op[T]
	if err := json.Unmarshal(raw, &op); err != nil {
		return crdt.Op[T]{}, fmt.Errorf("codec: decode op: %w", err)
	}
	return op, nil
}

// ExportList is one list's state within a full-dataset export.
type ExportList[T any] struct {
	ListID     string          `json:"listId"`
	Title      string          `json:"title"`
	TitleClock int64           `json:"titleClock"`
	TitleActor string          `json:"titleActor"`
	State      snapshotData[T] `json:"state"`
}

// NewExportList builds one list's entry within a full-dataset export from
// its live ordered set, since snapshotData's fields are package-private —
// callers outside this package (the repository's export path) cannot
// construct an ExportList literal directly.
func NewExportList[T any](listID, title string, titleClock int64, titleActor string, set *crdt.Set[T]) ExportList[T] {
	all := set.All()
	entries := make([]wireEntry[T], 0, len(all))
	for _, e := range all {
		entries = append(entries, toWireEntry(e))
	}
	return ExportList[T]{
		ListID:     listID,
		Title:      title,
		TitleClock: titleClock,
		TitleActor: titleActor,
		State:      snapshotData[T]{Clock: set.Clock(), Entries: entries},
	}
}

// ExportData is the payload of a full-dataset export.
type ExportData[R, L any] struct {
	Registry   snapshotData[R]  `json:"registry"`
	Lists      []ExportList[L]  `json:"lists"`
	ExportedAt time.Time        `json:"exportedAt"`
}

// Export is the versioned envelope for a full-dataset export/import.
type Export[R, L any] struct {
	Schema  string          `json:"schema"`
	Version int             `json:"version"`
	Data    ExportData[R, L] `json:"data"`
}

// ParseResult mirrors the spec's {ok, value} / {ok, error} decode shape.
type ParseResult[T any] struct {
	OK    bool
	Value T
	Err   error
}

// BuildExport serialises a full-dataset export envelope.
func BuildExport[R, L any](registry *crdt.Set[R], lists []ExportList[L], exportedAt time.Time) ([]byte, error) {
	regEntries := make([]wireEntry[R], 0)
	for _, e := range registry.All() {
		regEntries = append(regEntries, toWireEntry(e))
	}
	env := Export[R, L]{
		Schema:  exportSchema,
		Version: exportVersion,
		Data: ExportData[R, L]{
			Registry:   snapshotData[R]{Clock: registry.Clock(), Entries: regEntries},
			Lists:      lists,
			ExportedAt: exportedAt,
		},
	}
	return json.Marshal(env)
}

// ParseExport decodes a full-dataset export envelope, reporting
// {ok: false, error} on malformed input rather than a raw error, matching
// the external parse/build round-trip contract.
func ParseExport[R, L any](raw []byte) ParseResult[Export[R, L]] {
	var env Export[R, L]
	if err := json.Unmarshal(raw, &env); err != nil {
		return ParseResult[Export[R, L]]{OK: false, Err: fmt.Errorf("codec: decode export: %w", err)}
	}
	if env.Schema != exportSchema {
		return ParseResult[Export[R, L]]{OK: false, Err: fmt.Errorf("codec: unexpected export schema %q", env.Schema)}
	}
	return ParseResult[Export[R, L]]{OK: true, Value: env}
}

func restoredEntriesFromWire[T any](entries []wireEntry[T]) []crdt.RestoredEntry[T] {
	restored := make([]crdt.RestoredEntry[T], 0, len(entries))
	for _, we := range entries {
		if we.ID == "" {
			continue
		}
		pos := make(position.Position, 0, len(we.Pos))
		for _, c := range we.Pos {
			pos = append(pos, position.Component{Digit: c.Digit, Actor: c.Actor})
		}
		if pos.Empty() && we.DeletedAt == nil {
			continue
		}
		var winners map[string]crdt.Winner
		if len(we.FieldWinners) > 0 {
			winners = make(map[string]crdt.Winner, len(we.FieldWinners))
			for k, v := range we.FieldWinners {
				winners[k] = crdt.Winner{Clock: v.Clock, Actor: v.Actor}
			}
		}
		restored = append(restored, crdt.RestoredEntry[T]{
			ID:           we.ID,
			Pos:          pos,
			Data:         we.Data,
			CreatedAt:    we.CreatedAt,
			UpdatedAt:    we.UpdatedAt,
			PosClock:     we.PosClock,
			PosActor:     we.PosActor,
			DeletedAt:    we.DeletedAt,
			DeletedBy:    we.DeletedBy,
			FieldWinners: winners,
		})
	}
	return restored
}

// RestoreRegistryFromExport resets registrySet to the decoded export
// envelope's registry state.
func RestoreRegistryFromExport[R, L any](env Export[R, L], registrySet *crdt.Set[R]) {
	registrySet.ResetFromSnapshot(env.Data.Registry.Clock, restoredEntriesFromWire(env.Data.Registry.Entries))
}

// ExportListEntries is one list's decoded entry within a parsed export,
// handed to the repository's reset callback since ExportList's own State
// field holds an unexported wire type it cannot unpack itself.
type ExportListEntries[L any] struct {
	ListID     string
	Title      string
	TitleClock int64
	TitleActor string
	Clock      int64
	Entries    []crdt.RestoredEntry[L]
}

// RestoreListsFromExport decodes every list entry in env into the
// ready-to-apply shape ResetFromSnapshot-style callers need.
func RestoreListsFromExport[R, L any](env Export[R, L]) []ExportListEntries[L] {
	out := make([]ExportListEntries[L], 0, len(env.Data.Lists))
	for _, el := range env.Data.Lists {
		out = append(out, ExportListEntries[L]{
			ListID:     el.ListID,
			Title:      el.Title,
			TitleClock: el.TitleClock,
			TitleActor: el.TitleActor,
			Clock:      el.State.Clock,
			Entries:    restoredEntriesFromWire(el.State.Entries),
		})
	}
	return out
}
