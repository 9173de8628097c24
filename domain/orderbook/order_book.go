package orderbook

import (
	"math"
	"time"

	"github.com/tidwall/btree"

	"shardmatch/infra/ids"
)

// OrderBook holds the resting orders of one instrument.
//
// A book is single-writer: exactly one goroutine may call its methods.
// After every AddOrder and ModifyOrder the book is uncrossed (best bid <
// best ask, or a side is empty).
type OrderBook struct {
	instrument Instrument

	bids  *btree.BTreeG[*PriceLevel] // best (highest) first
	asks  *btree.BTreeG[*PriceLevel] // best (lowest) first
	probe PriceLevel

	registry map[OrderID]*Order
	pool     *OrderPool

	alloc  *ids.Allocator
	block  ids.Block
	nextID uint64

	needsMatch bool
	restSeq    uint64
	trades     uint64
	onTrade    TradeHandler
	now        func() time.Time
}

type Option func(*OrderBook)

// WithPoolCapacity sets the first chunk size of the order pool.
func WithPoolCapacity(n int) Option {
	return func(b *OrderBook) { b.pool = NewOrderPool(n) }
}

func WithClock(now func() time.Time) Option {
	return func(b *OrderBook) { b.now = now }
}

func WithTradeHandler(fn TradeHandler) Option {
	return func(b *OrderBook) { b.onTrade = fn }
}

// NewOrderBook builds an empty book and claims its first id block from alloc.
func NewOrderBook(instrument Instrument, alloc *ids.Allocator, opts ...Option) *OrderBook {
	b := &OrderBook{
		instrument: instrument,
		bids: btree.NewBTreeGOptions(func(a, c *PriceLevel) bool {
			return a.price > c.price
		}, btree.Options{NoLocks: true}),
		asks: btree.NewBTreeGOptions(func(a, c *PriceLevel) bool {
			return a.price < c.price
		}, btree.Options{NoLocks: true}),
		registry: make(map[OrderID]*Order),
		alloc:    alloc,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.pool == nil {
		b.pool = NewOrderPool(DefaultPoolCapacity)
	}
	b.block = alloc.NextBlock()
	b.nextID = b.block.Start
	return b
}

func (b *OrderBook) Instrument() Instrument { return b.instrument }

// SetTradeHandler replaces the trade observer. nil disables it.
func (b *OrderBook) SetTradeHandler(fn TradeHandler) { b.onTrade = fn }

// TradesCompleted counts executions since the book was created.
func (b *OrderBook) TradesCompleted() uint64 { return b.trades }

// OrderCount is the number of registered orders, filled ones included.
func (b *OrderBook) OrderCount() int { return len(b.registry) }

func (b *OrderBook) BidLevels() int { return b.bids.Len() }
func (b *OrderBook) AskLevels() int { return b.asks.Len() }

// Pool exposes the arena for capacity reporting.
func (b *OrderBook) Pool() *OrderPool { return b.pool }

// Order looks up a registered order. The pointer is owned by the book.
func (b *OrderBook) Order(id OrderID) (*Order, bool) {
	o, ok := b.registry[id]
	return o, ok
}

func (b *OrderBook) BestBid() Price { return bestOf(b.bids) }
func (b *OrderBook) BestAsk() Price { return bestOf(b.asks) }

// Bids walks bid levels from the highest price down.
func (b *OrderBook) Bids(fn func(*PriceLevel) bool) { b.bids.Scan(fn) }

// Asks walks ask levels from the lowest price up.
func (b *OrderBook) Asks(fn func(*PriceLevel) bool) { b.asks.Scan(fn) }

// ---- order entry ----

// AddOrder accepts a copy of o, assigns it an id and matches. It returns
// InvalidOrderID when the price, quantity, side or instrument is unusable.
func (b *OrderBook) AddOrder(o Order) OrderID {
	if !validPrice(o.Price) || o.Quantity == 0 || !o.Side.Valid() {
		return InvalidOrderID
	}
	if o.Instrument != "" && o.Instrument != b.instrument {
		return InvalidOrderID
	}

	id := b.nextOrderID()
	now := b.now()

	slot := b.pool.Allocate()
	*slot = Order{
		ID:          id,
		Instrument:  b.instrument,
		Side:        o.Side,
		Price:       o.Price,
		Quantity:    o.Quantity,
		Status:      New,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	b.rest(slot)
	b.registry[id] = slot

	b.tryMatch()
	return id
}

// CancelOrder cancels a live order. Unknown ids and orders that are already
// filled or cancelled return false and change nothing.
func (b *OrderBook) CancelOrder(id OrderID) bool {
	o, ok := b.registry[id]
	if !ok {
		return false
	}
	if !o.Cancel(b.now()) {
		return false
	}
	b.unrest(o)
	delete(b.registry, id)
	return true
}

// ModifyOrder changes the price and/or quantity of a live order.
//
// A price change or a quantity increase sends the order to the back of its
// level. A quantity decrease alone keeps its place. The new quantity must
// stay above what has already been filled.
func (b *OrderBook) ModifyOrder(id OrderID, newPrice Price, newQty Quantity) bool {
	o, ok := b.registry[id]
	if !ok || !o.IsActive() {
		return false
	}
	if !validPrice(newPrice) || newQty <= o.Filled {
		return false
	}

	switch {
	case newPrice != o.Price:
		b.unrest(o)
		o.Price = newPrice
		o.Quantity = newQty
		b.rest(o)
	case newQty > o.Quantity:
		lvl := b.levelOf(o)
		lvl.Remove(o.ID)
		o.Quantity = newQty
		b.stamp(o)
		lvl.Add(o)
	case newQty < o.Quantity:
		o.Quantity = newQty
	default:
		return false
	}
	o.UpdatedAt = b.now()

	b.tryMatch()
	return true
}

// ---- matching ----

// tryMatch executes crosses until the book is uncrossed. Only a newly
// created level can cross the book, so the scan is skipped otherwise.
func (b *OrderBook) tryMatch() {
	if !b.needsMatch {
		return
	}
	b.needsMatch = false

	for {
		bid, ok := b.bids.Min()
		if !ok {
			return
		}
		ask, ok := b.asks.Min()
		if !ok || bid.price < ask.price {
			return
		}
		b.cross(bid, ask)
	}
}

func (b *OrderBook) cross(bid, ask *PriceLevel) {
	buy, sell := bid.Front(), ask.Front()
	qty := min(buy.Remaining(), sell.Remaining())
	now := b.now()

	if err := buy.Fill(qty, now); err != nil {
		panic(err)
	}
	if err := sell.Fill(qty, now); err != nil {
		panic(err)
	}
	b.trades++

	// The order that took its place in the book first sets the price. Ids
	// can't decide this: a modified order keeps its id but rests anew.
	price := sell.Price
	if buy.restedAt < sell.restedAt {
		price = buy.Price
	}
	if b.onTrade != nil {
		b.onTrade(Trade{
			Instrument:  b.instrument,
			Sequence:    b.trades,
			BuyOrderID:  buy.ID,
			SellOrderID: sell.ID,
			Price:       price,
			Quantity:    qty,
			ExecutedAt:  now,
		})
	}

	if bid.PopFrontIfFilled() && bid.Empty() {
		b.bids.Delete(bid)
	}
	if ask.PopFrontIfFilled() && ask.Empty() {
		b.asks.Delete(ask)
	}
}

// ---- ladder helpers ----

func (b *OrderBook) side(s Side) *btree.BTreeG[*PriceLevel] {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) rest(o *Order) {
	tree := b.side(o.Side)
	b.probe.price = o.Price
	lvl, ok := tree.Get(&b.probe)
	if !ok {
		lvl = NewPriceLevel(o.Price)
		tree.Set(lvl)
		b.needsMatch = true
	}
	b.stamp(o)
	lvl.Add(o)
}

func (b *OrderBook) stamp(o *Order) {
	b.restSeq++
	o.restedAt = b.restSeq
}

func (b *OrderBook) unrest(o *Order) {
	lvl := b.levelOf(o)
	lvl.Remove(o.ID)
	if lvl.Empty() {
		b.side(o.Side).Delete(lvl)
	}
}

func (b *OrderBook) levelOf(o *Order) *PriceLevel {
	b.probe.price = o.Price
	lvl, ok := b.side(o.Side).Get(&b.probe)
	if !ok {
		panic(errAssertionf("order %d: no %s level at %v", o.ID, o.Side, o.Price))
	}
	return lvl
}

func (b *OrderBook) nextOrderID() OrderID {
	if b.nextID == b.block.End {
		b.block = b.alloc.NextBlock()
		b.nextID = b.block.Start
	}
	id := b.nextID
	b.nextID++
	return OrderID(id)
}

// validPrice rejects non-positive prices as well as NaN and infinities,
// which the ladder comparators cannot order.
func validPrice(p Price) bool {
	return p > 0 && !math.IsInf(float64(p), 1)
}

func bestOf(tree *btree.BTreeG[*PriceLevel]) Price {
	lvl, ok := tree.Min()
	if !ok {
		return NoPrice
	}
	return lvl.price
}
