package clock

import "testing"

func TestTickMonotonic(t *testing.T) {
	c := New()
	prev := int64(0)
	for i := 0; i < 10; i++ {
		v := c.Tick()
		if v <= prev {
			t.Fatalf("expected strictly increasing ticks, got %d after %d", v, prev)
		}
		prev = v
	}
}

func TestMergeDoesNotAdvanceAlone(t *testing.T) {
	c := New()
	c.Tick() // value = 1
	if got := c.Merge(0); got != 1 {
		t.Fatalf("Merge with lower remote should keep value, got %d", got)
	}
	if got := c.Value(); got != 1 {
		t.Fatalf("expected value unchanged at 1, got %d", got)
	}
}

func TestMergeAdoptsHigherRemote(t *testing.T) {
	c := New()
	c.Tick() // value = 1
	if got := c.Merge(10); got != 10 {
		t.Fatalf("expected merge to adopt higher remote clock, got %d", got)
	}
}

func TestTickAfterMergeReflectsMax(t *testing.T) {
	c := New()
	c.Tick()       // value = 1
	c.Merge(10)    // value = 10
	if got := c.Tick(); got != 11 {
		t.Fatalf("expected tick after merge to equal max(local, remote)+1 = 11, got %d", got)
	}
}

func TestNewAt(t *testing.T) {
	c := NewAt(42)
	if c.Value() != 42 {
		t.Fatalf("expected initial value 42, got %d", c.Value())
	}
	if got := c.Tick(); got != 43 {
		t.Fatalf("expected tick to produce 43, got %d", got)
	}
}
