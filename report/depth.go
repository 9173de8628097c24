// Package report captures read-only views of order books for reporting.
//
// Capture walks the book through its accessors and must run on the goroutine
// that owns the book, or after that goroutine has stopped.
package report

import (
	"time"

	"github.com/shopspring/decimal"

	"shardmatch/domain/orderbook"
)

// Level is one aggregated price level.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity uint64          `json:"quantity"`
	Orders   int             `json:"orders"`
}

// Depth is the top of a book on both sides, best level first.
type Depth struct {
	Instrument string          `json:"instrument"`
	BestBid    decimal.Decimal `json:"best_bid"`
	BestAsk    decimal.Decimal `json:"best_ask"`
	HasBid     bool            `json:"has_bid"`
	HasAsk     bool            `json:"has_ask"`
	Bids       []Level         `json:"bids"`
	Asks       []Level         `json:"asks"`
	Trades     uint64          `json:"trades"`
	Orders     int             `json:"orders"`
	CapturedAt time.Time       `json:"captured_at"`
}

// Capture copies up to maxLevels levels per side. maxLevels <= 0 copies
// every level.
func Capture(b *orderbook.OrderBook, maxLevels int, now time.Time) Depth {
	d := Depth{
		Instrument: string(b.Instrument()),
		Trades:     b.TradesCompleted(),
		Orders:     b.OrderCount(),
		CapturedAt: now,
	}
	if p := b.BestBid(); p != orderbook.NoPrice {
		d.BestBid, d.HasBid = price(p), true
	}
	if p := b.BestAsk(); p != orderbook.NoPrice {
		d.BestAsk, d.HasAsk = price(p), true
	}
	d.Bids = collect(b.Bids, maxLevels)
	d.Asks = collect(b.Asks, maxLevels)
	return d
}

func collect(walk func(func(*orderbook.PriceLevel) bool), maxLevels int) []Level {
	out := []Level{}
	walk(func(l *orderbook.PriceLevel) bool {
		out = append(out, Level{
			Price:    price(l.Price()),
			Quantity: uint64(l.TotalQty()),
			Orders:   l.Size(),
		})
		return maxLevels <= 0 || len(out) < maxLevels
	})
	return out
}

// Spread is best ask minus best bid. ok is false when a side is empty.
func (d Depth) Spread() (spread decimal.Decimal, ok bool) {
	if !d.HasBid || !d.HasAsk {
		return decimal.Zero, false
	}
	return d.BestAsk.Sub(d.BestBid), true
}

func price(p orderbook.Price) decimal.Decimal {
	return decimal.NewFromFloat(float64(p))
}
