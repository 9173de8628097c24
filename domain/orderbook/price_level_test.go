package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restingOrder(id OrderID, qty Quantity) *Order {
	o := NewOrder(spy, Buy, 100, qty)
	o.ID = id
	return &o
}

func TestPriceLevelFill(t *testing.T) {
	l := NewPriceLevel(100)
	first, second, third := restingOrder(0, 1000), restingOrder(1, 2000), restingOrder(2, 300)
	l.Add(first)
	l.Add(second)
	l.Add(third)
	require.Equal(t, 3, l.Size())
	require.Equal(t, Quantity(3300), l.TotalQty())

	front := l.Front()
	require.Equal(t, OrderID(0), front.ID)

	require.NoError(t, front.Fill(100, time.Now()))
	assert.False(t, l.PopFrontIfFilled())
	assert.Equal(t, PartiallyFilled, front.Status)
	assert.Equal(t, Quantity(100), front.Filled)

	require.NoError(t, front.Fill(900, time.Now()))
	assert.Equal(t, FullyFilled, front.Status)
	assert.True(t, l.PopFrontIfFilled())
	assert.Equal(t, OrderID(1), l.Front().ID)
	assert.Equal(t, New, l.Front().Status)
	assert.Equal(t, Quantity(2300), l.TotalQty())
}

func TestPriceLevelRemoveKeepsOrder(t *testing.T) {
	l := NewPriceLevel(100)
	for i := 0; i < 5; i++ {
		l.Add(restingOrder(OrderID(i), 10))
	}
	require.True(t, l.Remove(2))
	require.False(t, l.Remove(2))
	require.True(t, l.Remove(0))

	var got []OrderID
	l.Orders(func(o *Order) bool { got = append(got, o.ID); return true })
	assert.Equal(t, []OrderID{1, 3, 4}, got)
	assert.Equal(t, OrderID(1), l.Front().ID)
	assert.Equal(t, 3, l.Size())

	for _, id := range got {
		require.True(t, l.Remove(id))
	}
	assert.True(t, l.Empty())
	assert.Nil(t, l.Front())
	assert.False(t, l.PopFrontIfFilled())
}

func TestPriceLevelCompacts(t *testing.T) {
	l := NewPriceLevel(100)
	const n = 10 * compactMin
	for i := 0; i < n; i++ {
		l.Add(restingOrder(OrderID(i), 1))
	}
	for i := 0; i < n-1; i++ {
		require.True(t, l.Remove(OrderID(i)))
	}

	assert.Less(t, len(l.entries), n, "dead prefix should have been dropped")
	assert.Equal(t, OrderID(n-1), l.Front().ID)
	require.True(t, l.Remove(n-1), "index must survive compaction")
	assert.True(t, l.Empty())
}

func TestPriceLevelRemoveAfterCompaction(t *testing.T) {
	l := NewPriceLevel(100)
	const n = 4 * compactMin
	for i := 0; i < n; i++ {
		l.Add(restingOrder(OrderID(i), 1))
	}
	for i := 0; i < n/2; i++ {
		require.True(t, l.Remove(OrderID(i)))
	}
	require.Zero(t, l.head)

	require.True(t, l.Remove(OrderID(n-1)))
	require.True(t, l.Remove(OrderID(n/2+5)))
	assert.Equal(t, n/2-2, l.Size())
	assert.Equal(t, OrderID(n/2), l.Front().ID)
}
