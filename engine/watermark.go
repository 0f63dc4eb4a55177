package engine

import (
	"sync"

	"github.com/mike840609/debezium-nats-cdc/cdc"
)

// watermarkTracker computes the global checkpoint watermark across lanes.
// Intake assigns each change a monotonic sequence; lanes report terminal
// resolution out of order. The watermark is the position of the highest
// contiguous resolved prefix, so it never passes a change that still has
// unresolved candidates, regardless of lane skew.
type watermarkTracker struct {
	mu        sync.Mutex
	next      uint64
	low       uint64
	positions map[uint64]cdc.SourcePosition
	resolved  map[uint64]bool
	watermark cdc.SourcePosition
}

func newWatermarkTracker() *watermarkTracker {
	return &watermarkTracker{
		positions: make(map[uint64]cdc.SourcePosition),
		resolved:  make(map[uint64]bool),
	}
}

// Track registers an in-flight change and returns its sequence.
func (t *watermarkTracker) Track(position cdc.SourcePosition) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := t.next
	t.next++
	t.positions[seq] = position
	return seq
}

// Resolve marks a change terminal. It returns the new watermark and true
// when the contiguous prefix advanced.
func (t *watermarkTracker) Resolve(seq uint64) (cdc.SourcePosition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resolved[seq] = true

	advanced := false
	for t.resolved[t.low] {
		t.watermark = t.positions[t.low]
		delete(t.resolved, t.low)
		delete(t.positions, t.low)
		t.low++
		advanced = true
	}

	if !advanced {
		return "", false
	}
	return t.watermark, true
}

// Watermark returns the current watermark position; empty until the first
// change resolves.
func (t *watermarkTracker) Watermark() cdc.SourcePosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watermark
}

// InFlight reports how many tracked changes are not yet resolved.
func (t *watermarkTracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.next-t.low) - len(t.resolved)
}
