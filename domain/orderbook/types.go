package orderbook

import (
	"time"

	"shardmatch/infra/ids"
)

type (
	Instrument string
	OrderID    uint64
	Price      float64
	Quantity   uint64
)

const (
	// InvalidOrderID is returned when a book refuses an order.
	InvalidOrderID = OrderID(ids.InvalidOrderID)

	// NoPrice is the top-of-book value for an empty side.
	NoPrice Price = -1
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is Buy or Sell.
func (s Side) Valid() bool { return s == Buy || s == Sell }

type Status uint8

const (
	New Status = iota
	PartiallyFilled
	FullyFilled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case New:
		return "NEW"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case FullyFilled:
		return "FULLY_FILLED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Trade is one execution between the fronts of the best bid and best ask.
// Price is the price of the order that was resting first.
type Trade struct {
	Instrument  Instrument
	Sequence    uint64
	BuyOrderID  OrderID
	SellOrderID OrderID
	Price       Price
	Quantity    Quantity
	ExecutedAt  time.Time
}

// TradeHandler observes executions on the matching thread. It must not call
// back into the book.
type TradeHandler func(Trade)
