// Package position implements the fractional-indexing algebra used to order
// entries in an ordered-set CRDT without ever requiring a renumbering pass.
package position

import (
	"errors"
	"strings"
)

// ErrInvalidOrdering is returned when the caller's left bound is not
// strictly less than its right bound.
var ErrInvalidOrdering = errors.New("position: left must be strictly less than right")

// ErrMissingActor is returned when Between is called with an empty actor.
var ErrMissingActor = errors.New("position: actor must not be empty")

// rootBase is the root midpoint of the implicit 0..1024 interval used for
// the very first insertion at depth 1.
const rootBase = 512

// rootCeil is the implicit upper bound of the root interval; digits at any
// depth range over [0, rootCeil).
const rootCeil = 1024

// Component is one (digit, actor) pair in a Position.
type Component struct {
	Digit int64
	Actor string
}

// Position is an ordered sequence of components. Positions compare
// lexicographically by (digit, actor); a shorter prefix sorts before any of
// its extensions.
type Position []Component

// Empty reports whether p carries no components. An empty Position is only
// a legal value as a sentinel meaning "no boundary" (negative or positive
// infinity) — it must never be assigned to a live entry.
func (p Position) Empty() bool {
	return len(p) == 0
}

// Compare returns -1, 0, or 1 as p is less than, equal to, or greater than
// other, using lexicographic order over components.
func (p Position) Compare(other Position) int {
	n := len(p)
	if len(other) < n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		if c := compareComponent(p[i], other[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p) < len(other):
		return -1
	case len(p) > len(other):
		return 1
	default:
		return 0
	}
}

// Less reports whether p sorts strictly before other.
func (p Position) Less(other Position) bool {
	return p.Compare(other) < 0
}

// Equal reports whether p and other carry identical components.
func (p Position) Equal(other Position) bool {
	return p.Compare(other) == 0
}

// Clone returns an independent copy of p.
func (p Position) Clone() Position {
	if p == nil {
		return nil
	}
	out := make(Position, len(p))
	copy(out, p)
	return out
}

func compareComponent(a, b Component) int {
	switch {
	case a.Digit < b.Digit:
		return -1
	case a.Digit > b.Digit:
		return 1
	case a.Actor < b.Actor:
		return -1
	case a.Actor > b.Actor:
		return 1
	default:
		return 0
	}
}

// prefix returns the first n components of p as an independent slice.
// Requires n <= len(p).
func (p Position) prefix(n int) Position {
	out := make(Position, n)
	copy(out, p[:n])
	return out
}

// Between returns a position strictly between left and right for the given
// actor. Either bound may be nil/empty, meaning -infinity or +infinity
// respectively. When both bounds are non-empty, left must be strictly less
// than right.
//
// The algorithm compares left and right digit by digit. At the first depth
// where an integer midpoint exists between the active lower and upper
// bound, it emits that midpoint tagged with actor and stops. When the
// bounding digits are exactly equal and actor can be lexicographically
// interleaved between the two bounding actors, it emits that same digit
// tagged with actor. Otherwise it descends one level deeper — carrying
// forward whichever bound still constrains this depth — which always makes
// progress and keeps position growth to O(log n) for balanced inserts.
func Between(left, right Position, actor string) (Position, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	if !left.Empty() && !right.Empty() && !left.Less(right) {
		return nil, ErrInvalidOrdering
	}
	return between(left, right, actor, 0)
}

func between(left, right Position, actor string, depth int) (Position, error) {
	leftHas := depth < len(left)
	rightHas := depth < len(right)

	switch {
	case leftHas && rightHas:
		ld, rd := left[depth].Digit, right[depth].Digit
		switch {
		case rd-ld > 1:
			mid := ld + (rd-ld)/2
			return append(left.prefix(depth), Component{Digit: mid, Actor: actor}), nil
		case rd == ld:
			la, ra := left[depth].Actor, right[depth].Actor
			if la < actor && actor < ra {
				return append(left.prefix(depth), Component{Digit: ld, Actor: actor}), nil
			}
			// Same digit, actor doesn't fit between: descend keeping both
			// sides' own continuations as the new bounds.
			return between(left, right, actor, depth+1)
		default: // rd == ld+1: no integer between; descend under ld, right becomes open.
			return between(left, nil, actor, depth+1)
		}

	case leftHas && !rightHas:
		ld := left[depth].Digit
		if rootCeil-ld > 1 {
			mid := ld + (rootCeil-ld)/2
			return append(left.prefix(depth), Component{Digit: mid, Actor: actor}), nil
		}
		return between(left, nil, actor, depth+1)

	case !leftHas && rightHas:
		rd := right[depth].Digit
		if rd > 1 {
			mid := rd / 2
			return append(right.prefix(depth), Component{Digit: mid, Actor: actor}), nil
		}
		if rd == 1 {
			// No integer lies strictly between 0 and 1: take digit 0 and open
			// a fresh interval beneath it, so the result never ends in a bare
			// 0 that leaves no room for a later insert before it.
			return append(right.prefix(depth), Component{Digit: 0, Actor: actor}, Component{Digit: rootBase, Actor: actor}), nil
		}
		return between(nil, right, actor, depth+1)

	default: // neither side constrains this depth.
		if depth == 0 {
			// Both bounds are open: the very first entry in an empty set.
			return Position{{Digit: rootBase, Actor: actor}}, nil
		}
		// The bound that drove the recursion down here has run out of its
		// own components; resume its exact path instead of returning an
		// unrelated position, or the result can sort on the wrong side of
		// whichever bound is still real.
		tracked := left
		if len(tracked) == 0 {
			tracked = right
		}
		return append(tracked.prefix(depth), Component{Digit: rootCeil / 2, Actor: actor}), nil
	}
}

// FirstPosition returns the canonical position for the very first entry
// ever inserted into an empty ordered set.
func FirstPosition(actor string) Position {
	return Position{{Digit: rootBase, Actor: actor}}
}

// String renders a Position as "digit.actor/digit.actor/..." for debugging
// and log output.
func (p Position) String() string {
	if p.Empty() {
		return "<empty>"
	}
	var b strings.Builder
	for i, c := range p {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(itoa(c.Digit))
		b.WriteByte('.')
		b.WriteString(c.Actor)
	}
	return b.String()
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
