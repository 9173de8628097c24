package orderbook

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// Order is a limit order. A client builds one with NewOrder; the book copies
// it into its pool, assigns the id and owns it from then on.
type Order struct {
	ID          OrderID
	Instrument  Instrument
	Side        Side
	Price       Price
	Quantity    Quantity
	Filled      Quantity
	Status      Status
	SubmittedAt time.Time
	UpdatedAt   time.Time

	restedAt uint64 // book-local sequence of the last time it joined a level
}

// NewOrder builds a client order that has not been accepted by any book.
func NewOrder(instrument Instrument, side Side, price Price, qty Quantity) Order {
	return Order{
		ID:         InvalidOrderID,
		Instrument: instrument,
		Side:       side,
		Price:      price,
		Quantity:   qty,
	}
}

func (o *Order) Remaining() Quantity { return o.Quantity - o.Filled }

// IsActive reports whether the order can still trade, be modified or be
// cancelled.
func (o *Order) IsActive() bool {
	return o.Status == New || o.Status == PartiallyFilled
}

// Fill books an execution of qty. Over-filling, a zero fill or filling a
// terminal order is an invariant breach of the matching loop and returns an
// assertion failure; the order is left untouched.
func (o *Order) Fill(qty Quantity, now time.Time) error {
	if !o.IsActive() {
		return errors.AssertionFailedf("order %d: fill of %d on %s order", o.ID, qty, o.Status)
	}
	if qty == 0 || qty > o.Remaining() {
		return errors.AssertionFailedf("order %d: fill of %d with %d remaining (qty=%d filled=%d)",
			o.ID, qty, o.Remaining(), o.Quantity, o.Filled)
	}
	o.Filled += qty
	if o.Filled == o.Quantity {
		o.Status = FullyFilled
	} else {
		o.Status = PartiallyFilled
	}
	o.UpdatedAt = now
	return nil
}

// Cancel moves an active order to CANCELLED. It returns false and leaves the
// order untouched when it is already FULLY_FILLED or CANCELLED.
func (o *Order) Cancel(now time.Time) bool {
	if !o.IsActive() {
		return false
	}
	o.Status = Cancelled
	o.UpdatedAt = now
	return true
}

func (o *Order) String() string {
	return fmt.Sprintf("Order{id=%d, %s %s, price=%v, qty=%d, filled=%d, %s}",
		o.ID, o.Instrument, o.Side, o.Price, o.Quantity, o.Filled, o.Status)
}

// IsInvariantViolation reports whether err (or a panic value recovered from
// a book) is a matching invariant breach rather than a caller error.
func IsInvariantViolation(err error) bool {
	return err != nil && errors.HasAssertionFailure(err)
}

func errAssertionf(format string, args ...any) error {
	return errors.AssertionFailedf(format, args...)
}
