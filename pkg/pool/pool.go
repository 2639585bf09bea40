// Package pool provides type-safe object pooling for Comet.
// It wraps sync.Pool with reset-on-return semantics and statistics,
// reducing garbage collection pressure on the import hot paths where
// row buffers and field slices are recycled millions of times.
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool represents a generic object pool with type safety.
// The pool is safe for concurrent use. Pointer types are recommended
// for efficiency.
type Pool[T any] struct {
	pool  sync.Pool
	new   func() T
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		hits      int64
	}
}

// New creates a new typed pool with custom allocation and reset functions.
// The new function is called when the pool is empty. The reset function,
// if non-nil, is called before an object is returned to the pool.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{
		new:   newFn,
		reset: reset,
	}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object from the pool, creating one if the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	obj := p.pool.Get().(T)
	atomic.AddInt64(&p.stats.hits, 1)
	return obj
}

// Put returns an object to the pool for reuse.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns allocation count, objects currently in use, and total hits.
func (p *Pool[T]) Stats() (allocated, inUse, hits int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.hits)
}

// bucket sizes for the global buffer pool, in bytes
var bufferBuckets = []int{4 * 1024, 64 * 1024, 1024 * 1024, 16 * 1024 * 1024}

// BufferPool provides size-bucketed byte slice pooling
type BufferPool struct {
	pools [4]*Pool[*[]byte] // one per bucket
}

// GlobalBufferPool is the shared buffer pool used across the importer
var GlobalBufferPool = NewBufferPool()

// NewBufferPool creates a buffer pool with the default bucket sizes
func NewBufferPool() *BufferPool {
	bp := &BufferPool{}
	for i, size := range bufferBuckets {
		sz := size
		bp.pools[i] = New(
			func() *[]byte {
				b := make([]byte, 0, sz)
				return &b
			},
			func(b *[]byte) { *b = (*b)[:0] },
		)
	}
	return bp
}

// Get returns a buffer with at least the requested capacity.
// Requests larger than the biggest bucket are allocated directly.
func (bp *BufferPool) Get(size int) []byte {
	for i, bucket := range bufferBuckets {
		if size <= bucket {
			return (*bp.pools[i].Get())[:0]
		}
	}
	return make([]byte, 0, size)
}

// Put returns a buffer to its bucket. Oversized buffers are dropped.
func (bp *BufferPool) Put(buf []byte) {
	c := cap(buf)
	for i, bucket := range bufferBuckets {
		if c == bucket {
			b := buf[:0]
			bp.pools[i].Put(&b)
			return
		}
	}
}
