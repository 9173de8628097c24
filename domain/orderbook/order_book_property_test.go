package orderbook

import (
	"testing"

	"pgregory.net/rapid"

	"shardmatch/infra/ids"
)

func TestBookInvariantsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		filledByTrades := map[OrderID]Quantity{}
		var lastSeq uint64
		b := NewOrderBook(spy, ids.NewAllocator(rapid.Uint64Range(1, 8).Draw(t, "block")),
			WithPoolCapacity(8),
			WithTradeHandler(func(tr Trade) {
				if tr.Sequence != lastSeq+1 {
					t.Fatalf("trade sequence %d after %d", tr.Sequence, lastSeq)
				}
				lastSeq = tr.Sequence
				filledByTrades[tr.BuyOrderID] += tr.Quantity
				filledByTrades[tr.SellOrderID] += tr.Quantity
			}))

		var placed []OrderID
		seen := map[OrderID]bool{}
		priceGen := rapid.IntRange(95, 105)
		qtyGen := rapid.Uint64Range(1, 50)

		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.IntRange(0, 9).Draw(t, "op")
			switch {
			case op < 6 || len(placed) == 0:
				side := rapid.SampledFrom([]Side{Buy, Sell}).Draw(t, "side")
				id := b.AddOrder(NewOrder(spy, side, Price(priceGen.Draw(t, "price")), Quantity(qtyGen.Draw(t, "qty"))))
				if id == InvalidOrderID || seen[id] {
					t.Fatalf("bad id %d", id)
				}
				seen[id] = true
				placed = append(placed, id)
			case op < 8:
				id := rapid.SampledFrom(placed).Draw(t, "cancel")
				b.CancelOrder(id)
			default:
				id := rapid.SampledFrom(placed).Draw(t, "modify")
				b.ModifyOrder(id, Price(priceGen.Draw(t, "newPrice")), Quantity(qtyGen.Draw(t, "newQty")))
			}
			checkBook(t, b, filledByTrades)
		}
	})
}

func checkBook(t *rapid.T, b *OrderBook, filledByTrades map[OrderID]Quantity) {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid != NoPrice && ask != NoPrice && bid >= ask {
		t.Fatalf("book crossed: bid %v ask %v", bid, ask)
	}

	for id, o := range b.registry {
		if o.Filled > o.Quantity {
			t.Fatalf("order %d over-filled: %d > %d", id, o.Filled, o.Quantity)
		}
		if o.Filled != filledByTrades[id] {
			t.Fatalf("order %d filled %d, trades say %d", id, o.Filled, filledByTrades[id])
		}
		if (o.Status == FullyFilled) != (o.Filled == o.Quantity) {
			t.Fatalf("order %d status %s with %d/%d", id, o.Status, o.Filled, o.Quantity)
		}
	}

	walk := func(side Side) func(*PriceLevel) bool {
		return func(l *PriceLevel) bool {
			if l.Empty() {
				t.Fatalf("empty %s level %v left in ladder", side, l.Price())
			}
			l.Orders(func(o *Order) bool {
				if !o.IsActive() || o.Side != side || o.Price != l.Price() {
					t.Fatalf("misplaced order %s at level %v", o, l.Price())
				}
				if _, ok := b.registry[o.ID]; !ok {
					t.Fatalf("resting order %d not registered", o.ID)
				}
				return true
			})
			return true
		}
	}
	b.Bids(walk(Buy))
	b.Asks(walk(Sell))
}

// Orders at one price fill strictly in arrival order when nothing is
// modified or cancelled.
func TestBookTimePriorityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewOrderBook(spy, ids.NewAllocator(0))
		var fills []OrderID
		b.SetTradeHandler(func(tr Trade) { fills = append(fills, tr.SellOrderID) })

		n := rapid.IntRange(1, 30).Draw(t, "sellers")
		var total Quantity
		var sellers []OrderID
		for i := 0; i < n; i++ {
			q := Quantity(rapid.Uint64Range(1, 20).Draw(t, "qty"))
			total += q
			sellers = append(sellers, b.AddOrder(NewOrder(spy, Sell, 100, q)))
		}
		b.AddOrder(NewOrder(spy, Buy, 100, total))

		if len(fills) != n {
			t.Fatalf("got %d fills for %d sellers", len(fills), n)
		}
		for i, id := range fills {
			if id != sellers[i] {
				t.Fatalf("fill %d hit order %d, want %d", i, id, sellers[i])
			}
		}
		if b.BestBid() != NoPrice || b.BestAsk() != NoPrice {
			t.Fatalf("book should be empty, bid %v ask %v", b.BestBid(), b.BestAsk())
		}
	})
}
