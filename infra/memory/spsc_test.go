package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSPSCQueueBasic(t *testing.T) {
	q := NewSPSCQueue[int](4)
	require.Equal(t, 3, q.Cap())
	require.True(t, q.IsEmpty())

	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.True(t, q.Push(3))
	assert.False(t, q.Push(4), "one slot must stay empty")
	assert.Equal(t, 3, q.Len())

	for want := 1; want <= 3; want++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.True(t, q.IsEmpty())
}

func TestSPSCQueueWrapsAround(t *testing.T) {
	q := NewSPSCQueue[int](3)
	for i := 0; i < 10; i++ {
		require.True(t, q.Push(i))
		require.True(t, q.Push(i+100))
		assert.Equal(t, 2, q.Len())

		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
		v, ok = q.Pop()
		require.True(t, ok)
		assert.Equal(t, i+100, v)
	}
}

func TestSPSCQueuePopReleasesSlot(t *testing.T) {
	q := NewSPSCQueue[*int](2)
	x := 7
	require.True(t, q.Push(&x))
	_, ok := q.Pop()
	require.True(t, ok)
	for _, p := range q.buf {
		assert.Nil(t, p)
	}
}

func TestSPSCQueueRejectsTinyCapacity(t *testing.T) {
	assert.Panics(t, func() { NewSPSCQueue[int](1) })
}

type item struct {
	seq    int
	poison bool
}

// Two independent queues, each with one producer pushing N items followed
// by a poison pill, and one consumer that must see all N in order.
func TestSPSCQueueConcurrentNoLossInOrder(t *testing.T) {
	const n = 200_000

	queues := []*SPSCQueue[item]{NewSPSCQueue[item](64), NewSPSCQueue[item](1024)}

	var wg sync.WaitGroup
	received := make([][]int, len(queues))

	for i, q := range queues {
		wg.Add(2)

		go func(q *SPSCQueue[item]) {
			defer wg.Done()
			var w Yield
			for s := 0; s < n; s++ {
				for attempt := 0; !q.Push(item{seq: s}); attempt++ {
					w.Wait(attempt)
				}
			}
			for attempt := 0; !q.Push(item{poison: true}); attempt++ {
				w.Wait(attempt)
			}
		}(q)

		go func(i int, q *SPSCQueue[item]) {
			defer wg.Done()
			var w Yield
			got := make([]int, 0, n)
			for attempt := 0; ; {
				v, ok := q.Pop()
				if !ok {
					w.Wait(attempt)
					attempt++
					continue
				}
				attempt = 0
				if v.poison {
					break
				}
				got = append(got, v.seq)
			}
			received[i] = got
		}(i, q)
	}
	wg.Wait()

	for i := range queues {
		require.Len(t, received[i], n)
		for s, v := range received[i] {
			if v != s {
				t.Fatalf("queue %d: position %d holds %d", i, s, v)
			}
		}
	}
}

func TestParseWaitStrategy(t *testing.T) {
	s, err := ParseWaitStrategy("", 0)
	require.NoError(t, err)
	assert.IsType(t, Spin{}, s)

	s, err = ParseWaitStrategy("Yield", 0)
	require.NoError(t, err)
	assert.IsType(t, Yield{}, s)

	s, err = ParseWaitStrategy("backoff", 2*time.Millisecond)
	require.NoError(t, err)
	b, ok := s.(Backoff)
	require.True(t, ok)
	assert.Equal(t, 2*time.Millisecond, b.Max)

	_, err = ParseWaitStrategy("sleepy", 0)
	assert.ErrorIs(t, err, ErrUnknownWaitStrategy)
}

func TestBackoffSleepIsCapped(t *testing.T) {
	b := Backoff{SpinFor: 1, Min: time.Microsecond, Max: 50 * time.Microsecond}
	start := time.Now()
	b.Wait(40)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestBackoffIntervalGrowsFromZeroMin(t *testing.T) {
	b := Backoff{SpinFor: 2, Max: 8 * time.Microsecond}

	assert.Equal(t, time.Microsecond, b.interval(4))
	assert.Equal(t, 2*time.Microsecond, b.interval(5))
	assert.Equal(t, 8*time.Microsecond, b.interval(7))
	assert.Equal(t, 8*time.Microsecond, b.interval(1<<30), "capped without walking every attempt")

	b.Max = 0
	assert.Zero(t, b.interval(100))
}
