package lockfree

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingSingleThreadCycle(t *testing.T) {
	r := NewRing[int](4)

	// publish two tasks
	for i := 0; i < 2; i++ {
		seq := r.PubNext()
		require.GreaterOrEqual(t, seq, int64(0))
		*r.At(seq) = i + 100
		r.PubDone(seq)
	}

	// nothing to collect before execution
	assert.Equal(t, int64(-1), r.CollectNext())

	// execute both
	for i := 0; i < 2; i++ {
		seq := r.SubNext()
		require.GreaterOrEqual(t, seq, int64(0))
		assert.Equal(t, i+100, *r.At(seq))
		r.SubDone(seq)
	}
	assert.Equal(t, int64(-1), r.SubNext())

	// collect in publish order
	for i := 0; i < 2; i++ {
		seq := r.CollectNext()
		require.GreaterOrEqual(t, seq, int64(0))
		assert.Equal(t, i+100, *r.At(seq))
		r.CollectDone(seq)
	}
	assert.Equal(t, int64(-1), r.CollectNext())
}

func TestRingFullReturnsMinusOne(t *testing.T) {
	r := NewRing[int](4)

	for i := 0; i < r.Capacity(); i++ {
		seq := r.PubNext()
		require.GreaterOrEqual(t, seq, int64(0))
		r.PubDone(seq)
	}

	// full: every slot published, none collected
	assert.Equal(t, int64(-1), r.PubNext())

	// executing alone does not free the slot
	e0 := r.SubNext()
	require.GreaterOrEqual(t, e0, int64(0))
	r.SubDone(e0)
	assert.Equal(t, int64(-1), r.PubNext())

	// collecting does
	c0 := r.CollectNext()
	require.GreaterOrEqual(t, c0, int64(0))
	r.CollectDone(c0)
	assert.GreaterOrEqual(t, r.PubNext(), int64(0))
}

func TestRingSlotsReusedAcrossCycles(t *testing.T) {
	r := NewRing[int](4)

	for round := 0; round < 10; round++ {
		seq := r.PubNext()
		require.GreaterOrEqual(t, seq, int64(0))
		*r.At(seq) = round
		r.PubDone(seq)

		e := r.SubNext()
		require.Equal(t, seq, e)
		r.SubDone(e)

		c := r.CollectNext()
		require.Equal(t, seq, c)
		assert.Equal(t, round, *r.At(c))
		r.CollectDone(c)
	}
}

func TestRingConcurrentWorkers(t *testing.T) {
	const tasks = 1000
	r := NewRing[int](8)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	var executed AtomicCounter

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				seq := r.SubNext()
				if seq >= 0 {
					*r.At(seq) += 1000
					executed.Increment()
					r.SubDone(seq)
					continue
				}
				select {
				case <-stop:
					return
				default:
				}
			}
		}()
	}

	collected := make(map[int]bool, tasks)
	published, collectedCount := 0, 0
	for collectedCount < tasks {
		if published < tasks {
			if seq := r.PubNext(); seq >= 0 {
				*r.At(seq) = published
				r.PubDone(seq)
				published++
				continue
			}
		}
		if seq := r.CollectNext(); seq >= 0 {
			v := *r.At(seq)
			require.GreaterOrEqual(t, v, 1000)
			collected[v-1000] = true
			r.CollectDone(seq)
			collectedCount++
		}
	}

	close(stop)
	wg.Wait()

	assert.Equal(t, uint64(tasks), executed.Get())
	assert.Len(t, collected, tasks)
}

func TestRingCapacityRounding(t *testing.T) {
	assert.Equal(t, 8, NewRing[int](5).Capacity())
	assert.Equal(t, 4, NewRing[int](4).Capacity())
	// below the minimum, capacity is clamped up
	assert.Equal(t, 4, NewRing[int](1).Capacity())
}
