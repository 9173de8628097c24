package ids

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorBlocksAreContiguous(t *testing.T) {
	a := NewAllocator(10)

	b1 := a.NextBlock()
	b2 := a.NextBlock()

	assert.Equal(t, Block{Start: FirstOrderID, End: FirstOrderID + 10}, b1)
	assert.Equal(t, Block{Start: b1.End, End: b1.End + 10}, b2)
	assert.Equal(t, uint64(10), b2.Len())
	assert.Equal(t, b2.End, a.Reserved())
}

func TestAllocatorDefaultBlockSize(t *testing.T) {
	a := NewAllocator(0)
	assert.Equal(t, DefaultBlockSize, a.BlockSize())
	assert.Equal(t, DefaultBlockSize, a.NextBlock().Len())
}

func TestAllocatorConcurrentBlocksNeverOverlap(t *testing.T) {
	const (
		goroutines = 16
		perRoutine = 500
	)
	a := NewAllocator(7)

	var (
		mu     sync.Mutex
		starts = make(map[uint64]struct{}, goroutines*perRoutine)
		wg     sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]Block, 0, perRoutine)
			for i := 0; i < perRoutine; i++ {
				local = append(local, a.NextBlock())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, b := range local {
				starts[b.Start] = struct{}{}
			}
		}()
	}
	wg.Wait()

	require.Len(t, starts, goroutines*perRoutine)
	for s := range starts {
		// every block starts on a block boundary, so distinct starts mean
		// disjoint ranges
		assert.Zero(t, (s-FirstOrderID)%7)
	}
	assert.Equal(t, FirstOrderID+uint64(goroutines*perRoutine*7), a.Reserved())
}
