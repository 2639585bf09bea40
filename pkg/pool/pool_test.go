package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type thing struct {
	data []int
}

func TestPoolGetPut(t *testing.T) {
	resets := 0
	p := New(
		func() *thing { return &thing{data: make([]int, 0, 8)} },
		func(th *thing) { th.data = th.data[:0]; resets++ },
	)

	obj := p.Get()
	obj.data = append(obj.data, 1, 2, 3)
	p.Put(obj)

	assert.Equal(t, 1, resets)

	again := p.Get()
	assert.Empty(t, again.data)
	p.Put(again)

	allocated, inUse, hits := p.Stats()
	assert.GreaterOrEqual(t, allocated, int64(1))
	assert.Equal(t, int64(0), inUse)
	assert.Equal(t, int64(2), hits)
}

func TestBufferPoolBuckets(t *testing.T) {
	bp := NewBufferPool()

	small := bp.Get(100)
	assert.Equal(t, 4*1024, cap(small))
	assert.Len(t, small, 0)
	bp.Put(small)

	big := bp.Get(2 * 1024 * 1024)
	assert.Equal(t, 16*1024*1024, cap(big))
	bp.Put(big)

	huge := bp.Get(64 * 1024 * 1024)
	assert.GreaterOrEqual(t, cap(huge), 64*1024*1024)
	// oversize buffers are dropped on Put
	bp.Put(huge)
}
