// Package codec encodes execution reports in protobuf wire format.
//
// The message layout is
//
//	message ExecutionReport {
//	  bytes  exec_id       = 1; // 16-byte UUID
//	  string instrument    = 2;
//	  uint64 sequence      = 3;
//	  uint64 buy_order_id  = 4;
//	  uint64 sell_order_id = 5;
//	  double price         = 6;
//	  uint64 quantity      = 7;
//	  string notional      = 8; // decimal price * quantity
//	  int64  executed_at   = 9; // unix nanos
//	}
package codec

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"

	"shardmatch/domain/orderbook"
)

const (
	fieldExecID protowire.Number = iota + 1
	fieldInstrument
	fieldSequence
	fieldBuyOrderID
	fieldSellOrderID
	fieldPrice
	fieldQuantity
	fieldNotional
	fieldExecutedAt
)

var ErrMalformed = errors.New("malformed execution report")

type ExecutionReport struct {
	ExecID      uuid.UUID
	Instrument  orderbook.Instrument
	Sequence    uint64
	BuyOrderID  orderbook.OrderID
	SellOrderID orderbook.OrderID
	Price       orderbook.Price
	Quantity    orderbook.Quantity
	Notional    decimal.Decimal
	ExecutedAt  time.Time
}

// FromTrade builds the report of one execution.
func FromTrade(execID uuid.UUID, tr orderbook.Trade) ExecutionReport {
	return ExecutionReport{
		ExecID:      execID,
		Instrument:  tr.Instrument,
		Sequence:    tr.Sequence,
		BuyOrderID:  tr.BuyOrderID,
		SellOrderID: tr.SellOrderID,
		Price:       tr.Price,
		Quantity:    tr.Quantity,
		Notional:    Notional(tr.Price, tr.Quantity),
		ExecutedAt:  tr.ExecutedAt,
	}
}

// Notional is price * qty in decimal arithmetic.
func Notional(price orderbook.Price, qty orderbook.Quantity) decimal.Decimal {
	return decimal.NewFromFloat(float64(price)).Mul(decimal.NewFromInt(int64(qty)))
}

// Key is the broker partition key of the report.
func (r ExecutionReport) Key() []byte { return []byte(r.Instrument) }

func Marshal(r ExecutionReport) []byte {
	return AppendReport(make([]byte, 0, 96+len(r.Instrument)), r)
}

func AppendReport(b []byte, r ExecutionReport) []byte {
	b = protowire.AppendTag(b, fieldExecID, protowire.BytesType)
	b = protowire.AppendBytes(b, r.ExecID[:])
	b = protowire.AppendTag(b, fieldInstrument, protowire.BytesType)
	b = protowire.AppendString(b, string(r.Instrument))
	b = protowire.AppendTag(b, fieldSequence, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Sequence)
	b = protowire.AppendTag(b, fieldBuyOrderID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.BuyOrderID))
	b = protowire.AppendTag(b, fieldSellOrderID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.SellOrderID))
	b = protowire.AppendTag(b, fieldPrice, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(float64(r.Price)))
	b = protowire.AppendTag(b, fieldQuantity, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Quantity))
	b = protowire.AppendTag(b, fieldNotional, protowire.BytesType)
	b = protowire.AppendString(b, r.Notional.String())
	b = protowire.AppendTag(b, fieldExecutedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ExecutedAt.UnixNano()))
	return b
}

// Unmarshal decodes a report. Unknown fields are skipped.
func Unmarshal(b []byte) (ExecutionReport, error) {
	var r ExecutionReport
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, errors.Wrap(protowire.ParseError(n), "tag")
		}
		b = b[n:]

		if want, known := wireTypes[num]; known && want != typ {
			return r, errors.Wrapf(ErrMalformed, "field %d has wire type %d", num, typ)
		}

		switch num {
		case fieldExecID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return r, errors.Wrap(protowire.ParseError(n), "exec_id")
			}
			id, err := uuid.FromBytes(v)
			if err != nil {
				return r, errors.Wrapf(ErrMalformed, "exec_id: %v", err)
			}
			r.ExecID = id
			b = b[n:]
		case fieldInstrument:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, errors.Wrap(protowire.ParseError(n), "instrument")
			}
			r.Instrument = orderbook.Instrument(v)
			b = b[n:]
		case fieldPrice:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return r, errors.Wrap(protowire.ParseError(n), "price")
			}
			r.Price = orderbook.Price(math.Float64frombits(v))
			b = b[n:]
		case fieldNotional:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, errors.Wrap(protowire.ParseError(n), "notional")
			}
			d, err := decimal.NewFromString(v)
			if err != nil {
				return r, errors.Wrapf(ErrMalformed, "notional %q", v)
			}
			r.Notional = d
			b = b[n:]
		case fieldSequence, fieldBuyOrderID, fieldSellOrderID, fieldQuantity, fieldExecutedAt:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, errors.Wrapf(protowire.ParseError(n), "field %d", num)
			}
			r.setVarint(num, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, errors.Wrapf(protowire.ParseError(n), "skip field %d", num)
			}
			b = b[n:]
		}
	}
	return r, nil
}

var wireTypes = map[protowire.Number]protowire.Type{
	fieldExecID:      protowire.BytesType,
	fieldInstrument:  protowire.BytesType,
	fieldSequence:    protowire.VarintType,
	fieldBuyOrderID:  protowire.VarintType,
	fieldSellOrderID: protowire.VarintType,
	fieldPrice:       protowire.Fixed64Type,
	fieldQuantity:    protowire.VarintType,
	fieldNotional:    protowire.BytesType,
	fieldExecutedAt:  protowire.VarintType,
}

func (r *ExecutionReport) setVarint(num protowire.Number, v uint64) {
	switch num {
	case fieldSequence:
		r.Sequence = v
	case fieldBuyOrderID:
		r.BuyOrderID = orderbook.OrderID(v)
	case fieldSellOrderID:
		r.SellOrderID = orderbook.OrderID(v)
	case fieldQuantity:
		r.Quantity = orderbook.Quantity(v)
	case fieldExecutedAt:
		r.ExecutedAt = time.Unix(0, int64(v))
	}
}
