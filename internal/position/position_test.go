package position

import (
	"errors"
	"testing"
)

func TestFirstPosition(t *testing.T) {
	p := FirstPosition("alice")
	if len(p) != 1 || p[0].Digit != rootBase || p[0].Actor != "alice" {
		t.Fatalf("unexpected first position: %v", p)
	}
}

func TestBetweenEmptyBounds(t *testing.T) {
	p, err := Between(nil, nil, "alice")
	if err != nil {
		t.Fatalf("Between(nil, nil): %v", err)
	}
	if p.Empty() {
		t.Fatalf("expected non-empty position")
	}
}

func TestBetweenMissingActor(t *testing.T) {
	_, err := Between(nil, nil, "")
	if !errors.Is(err, ErrMissingActor) {
		t.Fatalf("expected ErrMissingActor, got %v", err)
	}
}

func TestBetweenInvalidOrdering(t *testing.T) {
	left := Position{{Digit: 500, Actor: "a"}}
	right := Position{{Digit: 400, Actor: "a"}}
	_, err := Between(left, right, "b")
	if !errors.Is(err, ErrInvalidOrdering) {
		t.Fatalf("expected ErrInvalidOrdering, got %v", err)
	}

	// Equal bounds are also invalid: left must be strictly less than right.
	_, err = Between(left, left, "b")
	if !errors.Is(err, ErrInvalidOrdering) {
		t.Fatalf("expected ErrInvalidOrdering for equal bounds, got %v", err)
	}
}

func TestBetweenMidpoint(t *testing.T) {
	left := Position{{Digit: 100, Actor: "a"}}
	right := Position{{Digit: 200, Actor: "a"}}
	p, err := Between(left, right, "b")
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	if !left.Less(p) || !p.Less(right) {
		t.Fatalf("expected left < p < right, got left=%v p=%v right=%v", left, p, right)
	}
}

func TestBetweenAdjacentDigitsDescends(t *testing.T) {
	left := Position{{Digit: 100, Actor: "a"}}
	right := Position{{Digit: 101, Actor: "a"}}
	p, err := Between(left, right, "b")
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	if !left.Less(p) || !p.Less(right) {
		t.Fatalf("expected left < p < right, got left=%v p=%v right=%v", left, p, right)
	}
	if len(p) <= len(left) {
		t.Fatalf("expected descent to produce a longer position, got %v", p)
	}
}

func TestBetweenSameDigitActorInterleave(t *testing.T) {
	left := Position{{Digit: 100, Actor: "a"}}
	right := Position{{Digit: 100, Actor: "z"}}
	p, err := Between(left, right, "m")
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	if len(p) != 1 || p[0].Digit != 100 || p[0].Actor != "m" {
		t.Fatalf("expected actor interleave at same depth, got %v", p)
	}
	if !left.Less(p) || !p.Less(right) {
		t.Fatalf("expected left < p < right, got left=%v p=%v right=%v", left, p, right)
	}
}

func TestBetweenSameDigitActorCannotInterleaveDescends(t *testing.T) {
	left := Position{{Digit: 100, Actor: "m"}}
	right := Position{{Digit: 100, Actor: "n"}}
	// Requested actor "m" itself can't land strictly between "m" and "n"
	// lexicographically (it's not > left.Actor), so the algorithm must
	// descend rather than produce an out-of-order result.
	p, err := Between(left, right, "m")
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	if !left.Less(p) || !p.Less(right) {
		t.Fatalf("expected left < p < right, got left=%v p=%v right=%v", left, p, right)
	}
}

func TestBetweenOnlyLeftPresent(t *testing.T) {
	left := Position{{Digit: 1023, Actor: "a"}}
	p, err := Between(left, nil, "b")
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	if !left.Less(p) {
		t.Fatalf("expected left < p, got left=%v p=%v", left, p)
	}
}

func TestBetweenOnlyRightPresent(t *testing.T) {
	right := Position{{Digit: 1, Actor: "a"}}
	p, err := Between(nil, right, "b")
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	if !p.Less(right) {
		t.Fatalf("expected p < right, got p=%v right=%v", p, right)
	}
}

func TestBetweenDeterministic(t *testing.T) {
	left := Position{{Digit: 10, Actor: "a"}}
	right := Position{{Digit: 11, Actor: "a"}}
	p1, err := Between(left, right, "c")
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	p2, err := Between(left, right, "c")
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	if !p1.Equal(p2) {
		t.Fatalf("expected deterministic output, got %v and %v", p1, p2)
	}
}

// TestBetweenDenseSequentialInserts repeatedly inserts immediately to the
// right of the previous position (simulating always-append-at-end), and
// checks the resulting sequence stays strictly increasing and that
// position length grows at a bounded rate rather than exploding.
func TestBetweenDenseSequentialInserts(t *testing.T) {
	positions := []Position{FirstPosition("a")}
	const inserts = 60
	for i := 0; i < inserts; i++ {
		prev := positions[len(positions)-1]
		next, err := Between(prev, nil, "a")
		if err != nil {
			t.Fatalf("Between at i=%d: %v", i, err)
		}
		if !prev.Less(next) {
			t.Fatalf("expected strictly increasing sequence at i=%d: prev=%v next=%v", i, prev, next)
		}
		positions = append(positions, next)
	}
	// Each level exhausts its own digit range after roughly log2(rootCeil)
	// appends before a new component is added, so length grows linearly
	// with insert count, not per-insert.
	if got := len(positions[len(positions)-1]); got > inserts/4 {
		t.Fatalf("position grew unexpectedly large after %d inserts: %v", inserts, positions[len(positions)-1])
	}
}

// TestBetweenDenseMidpointInserts repeatedly bisects the same interval,
// verifying the algebra always finds room and ordering stays consistent.
func TestBetweenDenseMidpointInserts(t *testing.T) {
	left := FirstPosition("a")
	right, err := Between(left, nil, "a")
	if err != nil {
		t.Fatalf("seed Between: %v", err)
	}

	cur, lo, hi := left, left, right
	for i := 0; i < 40; i++ {
		mid, err := Between(lo, hi, "a")
		if err != nil {
			t.Fatalf("bisect at i=%d: %v", i, err)
		}
		if !lo.Less(mid) || !mid.Less(hi) {
			t.Fatalf("bisect out of order at i=%d: lo=%v mid=%v hi=%v", i, lo, mid, hi)
		}
		hi = mid
		_ = cur
	}
}

func TestPositionCompareShorterPrefixIsLess(t *testing.T) {
	short := Position{{Digit: 5, Actor: "a"}}
	long := Position{{Digit: 5, Actor: "a"}, {Digit: 1, Actor: "a"}}
	if !short.Less(long) {
		t.Fatalf("expected shorter prefix to be less: short=%v long=%v", short, long)
	}
}

func TestPositionCloneIndependence(t *testing.T) {
	p := Position{{Digit: 1, Actor: "a"}}
	c := p.Clone()
	c[0].Digit = 999
	if p[0].Digit == 999 {
		t.Fatalf("Clone shared underlying storage with original")
	}
}

func TestPositionString(t *testing.T) {
	p := Position{{Digit: 512, Actor: "a"}, {Digit: 10, Actor: "bob"}}
	if got := p.String(); got != "512.a/10.bob" {
		t.Fatalf("unexpected String() output: %q", got)
	}
	if Position(nil).String() != "<empty>" {
		t.Fatalf("expected <empty> for nil position")
	}
}
