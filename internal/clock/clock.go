// Package clock implements the Lamport logical clock used to order
// operations across devices belonging to the same user.
package clock

import "sync"

// Clock is a monotonic Lamport counter. A single Clock is owned by one
// ordered-set CRDT instance; it is safe for concurrent use.
type Clock struct {
	mu    sync.Mutex
	value int64
}

// New returns a Clock starting at zero.
func New() *Clock {
	return &Clock{}
}

// NewAt returns a Clock initialised to value, e.g. when rehydrating an
// instance from a snapshot.
func NewAt(value int64) *Clock {
	return &Clock{value: value}
}

// Value returns the current clock value without advancing it.
func (c *Clock) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Tick advances the clock by one and returns the new value. Call this when
// generating a locally originated operation; any previously merged remote
// clocks are already folded into value, so the result is
// max(local, every previously observed remote) + 1.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	return c.value
}

// Merge folds an observed remote clock value into the local clock without
// advancing it: value becomes max(value, remote). Call this after applying
// a remote operation, per the instance invariant that the clock is always
// >= every clock it has seen.
func (c *Clock) Merge(remote int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remote > c.value {
		c.value = remote
	}
	return c.value
}
