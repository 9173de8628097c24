package orderbook

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shardmatch/infra/ids"
)

const spy Instrument = "SPY"

func newTestBook(t *testing.T, opts ...Option) (*OrderBook, *[]Trade) {
	t.Helper()
	var trades []Trade
	opts = append(opts, WithTradeHandler(func(tr Trade) { trades = append(trades, tr) }))
	return NewOrderBook(spy, ids.NewAllocator(0), opts...), &trades
}

func add(t *testing.T, b *OrderBook, side Side, price Price, qty Quantity) OrderID {
	t.Helper()
	id := b.AddOrder(NewOrder(spy, side, price, qty))
	require.NotEqual(t, InvalidOrderID, id)
	return id
}

func TestBookLadders(t *testing.T) {
	b, trades := newTestBook(t)
	add(t, b, Buy, 100, 300)
	add(t, b, Buy, 103, 200)
	add(t, b, Buy, 102, 100)
	add(t, b, Sell, 105, 300)
	add(t, b, Sell, 104, 200)
	add(t, b, Sell, 104, 100)

	assert.Equal(t, Price(103), b.BestBid())
	assert.Equal(t, Price(104), b.BestAsk())
	assert.Empty(t, *trades)
	assert.Zero(t, b.TradesCompleted())
	assert.Equal(t, 3, b.BidLevels())
	assert.Equal(t, 2, b.AskLevels())

	var bids, asks []Price
	b.Bids(func(l *PriceLevel) bool { bids = append(bids, l.Price()); return true })
	b.Asks(func(l *PriceLevel) bool { asks = append(asks, l.Price()); return true })
	assert.Equal(t, []Price{103, 102, 100}, bids)
	assert.Equal(t, []Price{104, 105}, asks)
}

func TestBookPartialCross(t *testing.T) {
	b, trades := newTestBook(t)
	buy := add(t, b, Buy, 100, 300)
	sell := add(t, b, Sell, 100, 200)

	require.Len(t, *trades, 1)
	tr := (*trades)[0]
	assert.Equal(t, Quantity(200), tr.Quantity)
	assert.Equal(t, buy, tr.BuyOrderID)
	assert.Equal(t, sell, tr.SellOrderID)
	assert.Equal(t, uint64(1), tr.Sequence)

	o, ok := b.Order(buy)
	require.True(t, ok)
	assert.Equal(t, Quantity(200), o.Filled)
	assert.Equal(t, PartiallyFilled, o.Status)
	assert.Equal(t, Quantity(100), o.Remaining())

	s, ok := b.Order(sell)
	require.True(t, ok, "filled orders stay registered")
	assert.Equal(t, FullyFilled, s.Status)

	assert.Equal(t, Price(100), b.BestBid())
	assert.Equal(t, NoPrice, b.BestAsk())
}

func TestBookMatchSequence(t *testing.T) {
	b, trades := newTestBook(t)

	add(t, b, Buy, 100, 300)
	add(t, b, Sell, 100, 200)
	assert.Equal(t, Price(100), b.BestBid())
	assert.Equal(t, NoPrice, b.BestAsk())

	add(t, b, Buy, 101, 100)
	assert.Equal(t, Price(101), b.BestBid())

	// 200 sold against 101x100 then the 100 left at 100
	add(t, b, Sell, 100, 200)
	assert.Equal(t, NoPrice, b.BestBid())
	assert.Equal(t, NoPrice, b.BestAsk())
	require.Len(t, *trades, 3)
	assert.Equal(t, Price(101), (*trades)[1].Price)
	assert.Equal(t, Price(100), (*trades)[2].Price)

	add(t, b, Buy, 100, 500)
	add(t, b, Sell, 101, 500)
	assert.Equal(t, Price(100), b.BestBid())
	assert.Equal(t, Price(101), b.BestAsk())
	assert.Equal(t, uint64(3), b.TradesCompleted())
}

func TestBookTradePriceIsResting(t *testing.T) {
	b, trades := newTestBook(t)
	add(t, b, Sell, 99, 10)
	add(t, b, Buy, 101, 10)

	require.Len(t, *trades, 1)
	assert.Equal(t, Price(99), (*trades)[0].Price)

	add(t, b, Buy, 101, 10)
	add(t, b, Sell, 98, 10)
	require.Len(t, *trades, 2)
	assert.Equal(t, Price(101), (*trades)[1].Price)
}

func TestBookModifyKeepsOrLosesPriority(t *testing.T) {
	b, _ := newTestBook(t)
	first := add(t, b, Buy, 99, 300)
	second := add(t, b, Buy, 99, 300)

	level := bestBidLevel(t, b)
	require.Equal(t, first, level.Front().ID)

	require.True(t, b.ModifyOrder(first, 99, 200))
	assert.Equal(t, first, level.Front().ID, "decrease keeps priority")
	assert.Equal(t, Quantity(500), level.TotalQty())

	require.True(t, b.ModifyOrder(first, 99, 300))
	assert.Equal(t, second, level.Front().ID, "increase re-queues")

	var order []OrderID
	level.Orders(func(o *Order) bool { order = append(order, o.ID); return true })
	assert.Equal(t, []OrderID{second, first}, order)
}

func TestBookModifyValidation(t *testing.T) {
	b, _ := newTestBook(t)
	id := add(t, b, Buy, 100, 300)
	add(t, b, Sell, 100, 100)

	assert.False(t, b.ModifyOrder(id+1000, 100, 500), "unknown id")
	assert.False(t, b.ModifyOrder(id, 0, 500), "zero price")
	assert.False(t, b.ModifyOrder(id, -5, 500), "negative price")
	assert.False(t, b.ModifyOrder(id, Price(math.NaN()), 500), "NaN price")
	assert.False(t, b.ModifyOrder(id, Price(math.Inf(1)), 500), "infinite price")
	assert.False(t, b.ModifyOrder(id, 100, 100), "qty equal to filled")
	assert.False(t, b.ModifyOrder(id, 100, 50), "qty below filled")
	assert.False(t, b.ModifyOrder(id, 100, 300), "no change")

	require.True(t, b.CancelOrder(id))
	assert.False(t, b.ModifyOrder(id, 101, 500), "cancelled")
}

func TestBookModifyPriceMovesLevel(t *testing.T) {
	b, _ := newTestBook(t)
	a := add(t, b, Sell, 105, 10)
	add(t, b, Sell, 106, 10)

	require.True(t, b.ModifyOrder(a, 106, 10))
	assert.Equal(t, Price(106), b.BestAsk())
	assert.Equal(t, 1, b.AskLevels(), "empty level pruned")

	lvl, ok := b.asks.Min()
	require.True(t, ok)
	assert.Equal(t, 2, lvl.Size())
	assert.NotEqual(t, a, lvl.Front().ID, "moved order goes to the tail")
}

func TestBookModifyCrossTrades(t *testing.T) {
	b, trades := newTestBook(t)
	bid := add(t, b, Buy, 99, 100)
	ask := add(t, b, Sell, 101, 60)

	require.True(t, b.ModifyOrder(bid, 101, 100))
	require.Len(t, *trades, 1)
	assert.Equal(t, Quantity(60), (*trades)[0].Quantity)
	assert.Equal(t, Price(101), (*trades)[0].Price)
	assert.Equal(t, ask, (*trades)[0].SellOrderID)

	assert.Equal(t, Price(101), b.BestBid())
	assert.Equal(t, NoPrice, b.BestAsk())
}

func TestBookModifiedAggressorTradesAtRestingPrice(t *testing.T) {
	b, trades := newTestBook(t)
	bid := add(t, b, Buy, 99, 10)
	ask := add(t, b, Sell, 101, 10)

	require.True(t, b.ModifyOrder(bid, 103, 10))
	require.Len(t, *trades, 1)
	assert.Equal(t, Price(101), (*trades)[0].Price)
	assert.Equal(t, bid, (*trades)[0].BuyOrderID)
	assert.Equal(t, ask, (*trades)[0].SellOrderID)
	assert.Equal(t, NoPrice, b.BestBid())
	assert.Equal(t, NoPrice, b.BestAsk())
}

func TestBookCancel(t *testing.T) {
	b, _ := newTestBook(t)
	var ninetyNine []OrderID
	for _, qty := range []Quantity{300, 300, 500, 1000} {
		ninetyNine = append(ninetyNine, add(t, b, Buy, 99, qty))
	}
	top := add(t, b, Buy, 100, 300)

	require.True(t, b.CancelOrder(top))
	require.True(t, b.CancelOrder(ninetyNine[0]))
	assert.Equal(t, Price(99), b.BestBid())
	assert.Equal(t, ninetyNine[1], bestBidLevel(t, b).Front().ID)

	for _, id := range ninetyNine[1:] {
		require.True(t, b.CancelOrder(id))
	}
	assert.Equal(t, NoPrice, b.BestBid())
	assert.Zero(t, b.BidLevels())
	assert.Zero(t, b.OrderCount())
}

func TestBookCancelIdempotent(t *testing.T) {
	b, _ := newTestBook(t)
	id := add(t, b, Buy, 100, 10)

	require.True(t, b.CancelOrder(id))
	assert.False(t, b.CancelOrder(id))
	assert.False(t, b.CancelOrder(InvalidOrderID))

	filled := add(t, b, Sell, 50, 5)
	add(t, b, Buy, 50, 5)
	o, ok := b.Order(filled)
	require.True(t, ok)
	require.Equal(t, FullyFilled, o.Status)
	assert.False(t, b.CancelOrder(filled))
	assert.Equal(t, FullyFilled, o.Status)
}

func TestBookRejectsBadOrders(t *testing.T) {
	b, _ := newTestBook(t)
	assert.Equal(t, InvalidOrderID, b.AddOrder(NewOrder(spy, Buy, 0, 10)))
	assert.Equal(t, InvalidOrderID, b.AddOrder(NewOrder(spy, Buy, 10, 0)))
	assert.Equal(t, InvalidOrderID, b.AddOrder(NewOrder(spy, Side(7), 10, 10)))
	assert.Equal(t, InvalidOrderID, b.AddOrder(NewOrder("QQQ", Buy, 10, 10)))
	assert.Zero(t, b.OrderCount())

	id := add(t, b, Buy, 100, 10)
	for _, p := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.Equal(t, InvalidOrderID, b.AddOrder(NewOrder(spy, Buy, Price(p), 5)), "price %v", p)
		assert.Equal(t, InvalidOrderID, b.AddOrder(NewOrder(spy, Sell, Price(p), 5)), "price %v", p)
	}
	assert.Equal(t, 1, b.OrderCount())
	assert.Equal(t, 1, b.BidLevels())
	assert.Zero(t, b.AskLevels())

	var held []OrderID
	bestBidLevel(t, b).Orders(func(o *Order) bool { held = append(held, o.ID); return true })
	assert.Equal(t, []OrderID{id}, held)
}

func TestBookIDsSpanBlocks(t *testing.T) {
	alloc := ids.NewAllocator(3)
	a := NewOrderBook(spy, alloc)
	c := NewOrderBook("QQQ", alloc)

	seen := map[OrderID]bool{}
	for i := 0; i < 10; i++ {
		for _, b := range []*OrderBook{a, c} {
			id := b.AddOrder(NewOrder(b.Instrument(), Buy, Price(100+i), 1))
			require.False(t, seen[id], "id %d reused", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 20)
}

func TestBookClock(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	b, trades := newTestBook(t, WithClock(func() time.Time { return at }))
	id := add(t, b, Buy, 10, 1)
	add(t, b, Sell, 10, 1)

	o, _ := b.Order(id)
	assert.Equal(t, at, o.SubmittedAt)
	assert.Equal(t, at, o.UpdatedAt)
	require.Len(t, *trades, 1)
	assert.Equal(t, at, (*trades)[0].ExecutedAt)
}

func TestBookOverfillPanics(t *testing.T) {
	b, _ := newTestBook(t)
	id := add(t, b, Buy, 10, 5)
	o, _ := b.Order(id)
	o.Filled = o.Quantity // exhausted but still resting

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, IsInvariantViolation(err))
	}()
	b.AddOrder(NewOrder(spy, Sell, 10, 5))
}

func bestBidLevel(t *testing.T, b *OrderBook) *PriceLevel {
	t.Helper()
	lvl, ok := b.bids.Min()
	require.True(t, ok)
	return lvl
}
