// Package lockfree provides lock-free data structures for high-performance
// concurrent processing
package lockfree

import (
	"runtime"
	"sync/atomic"
)

// Ring is a fixed-capacity ring of reusable slots coordinated by three
// cursors. A slot cycles through four states:
//
//	free -> published (producer filled it)
//	published -> done (a worker executed it)
//	done -> collected (the collector consumed the result, freeing the slot)
//
// Producers claim free slots via Pub, workers claim published slots via
// Sub, and the collector drains done slots via Collect in publish order.
// All three cursor operations return -1 instead of blocking when no slot
// is in the required state, which lets the caller fall back to executing
// work itself.
//
// Slot payloads are preallocated: At(seq) returns a pointer into the ring,
// so no allocation happens per hand-off.
type Ring[T any] struct {
	items []T
	seqs  []paddedSeq

	capacity uint64
	mask     uint64

	pubPos atomic.Uint64
	_pad1  [7]uint64 //nolint:unused // cache line separation

	subPos atomic.Uint64
	_pad2  [7]uint64 //nolint:unused

	colPos atomic.Uint64
	_pad3  [7]uint64 //nolint:unused
}

type paddedSeq struct {
	seq  atomic.Uint64
	_pad [7]uint64 //nolint:unused
}

// state offsets relative to the claim position of the current cycle
const (
	statePublished = 1
	stateDone      = 2
)

// NewRing creates a ring with the given capacity, rounded up to the next
// power of two. The minimum capacity is 4 so the slot state offsets never
// collide with the cycle distance.
func NewRing[T any](capacity int) *Ring[T] {
	c := uint64(4)
	for c < uint64(capacity) {
		c <<= 1
	}

	r := &Ring[T]{
		items:    make([]T, c),
		seqs:     make([]paddedSeq, c),
		capacity: c,
		mask:     c - 1,
	}
	for i := uint64(0); i < c; i++ {
		r.seqs[i].seq.Store(i)
	}
	return r
}

// Capacity returns the ring capacity.
func (r *Ring[T]) Capacity() int {
	return int(r.capacity)
}

// At returns the payload slot for a claimed sequence.
func (r *Ring[T]) At(seq int64) *T {
	return &r.items[uint64(seq)&r.mask]
}

// next claims position pos from cursor when the slot sequence equals
// pos+want. Returns the claimed position or -1 when the slot is not in the
// required state.
func (r *Ring[T]) next(cursor *atomic.Uint64, want uint64) int64 {
	for {
		pos := cursor.Load()
		slot := &r.seqs[pos&r.mask]
		seq := slot.seq.Load()

		diff := int64(seq) - int64(pos+want)
		if diff == 0 {
			if cursor.CompareAndSwap(pos, pos+1) {
				return int64(pos)
			}
		} else if diff < 0 {
			// slot still owned by the previous stage
			return -1
		}

		runtime.Gosched()
	}
}

// PubNext claims a free slot for publishing, or returns -1 when the ring
// is full.
func (r *Ring[T]) PubNext() int64 {
	return r.next(&r.pubPos, 0)
}

// PubDone marks a claimed slot as published, handing it to the workers.
func (r *Ring[T]) PubDone(seq int64) {
	r.seqs[uint64(seq)&r.mask].seq.Store(uint64(seq) + statePublished)
}

// SubNext claims a published slot for execution, or returns -1 when no
// task is pending.
func (r *Ring[T]) SubNext() int64 {
	return r.next(&r.subPos, statePublished)
}

// SubDone marks an executed slot as done, handing it to the collector.
func (r *Ring[T]) SubDone(seq int64) {
	r.seqs[uint64(seq)&r.mask].seq.Store(uint64(seq) + stateDone)
}

// CollectNext claims the next done slot in publish order, or returns -1
// when no result is ready.
func (r *Ring[T]) CollectNext() int64 {
	return r.next(&r.colPos, stateDone)
}

// CollectDone releases a collected slot back to the free state for the
// next cycle around the ring.
func (r *Ring[T]) CollectDone(seq int64) {
	r.seqs[uint64(seq)&r.mask].seq.Store(uint64(seq) + r.capacity)
}

// AtomicCounter provides a lock-free counter for statistics collection.
type AtomicCounter struct {
	value atomic.Uint64
}

// Increment atomically increments the counter by one.
func (c *AtomicCounter) Increment() {
	c.value.Add(1)
}

// Add atomically adds delta to the counter.
func (c *AtomicCounter) Add(delta uint64) {
	c.value.Add(delta)
}

// Get returns the current value.
func (c *AtomicCounter) Get() uint64 {
	return c.value.Load()
}

// Reset sets the counter back to zero.
func (c *AtomicCounter) Reset() {
	c.value.Store(0)
}
