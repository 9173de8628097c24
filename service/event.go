package service

import (
	"shardmatch/domain/orderbook"
)

type EventKind uint8

const (
	// EventAck reports the outcome of one command.
	EventAck EventKind = iota
	// EventTrade reports one execution.
	EventTrade
)

func (k EventKind) String() string {
	switch k {
	case EventAck:
		return "ACK"
	case EventTrade:
		return "TRADE"
	default:
		return "UNKNOWN"
	}
}

// Event is what a worker publishes on its event ring. Trades produced by a
// command are published before that command's ACK.
type Event struct {
	Kind   EventKind
	Worker int

	// ACK
	Command    CommandType
	Tag        uint64
	Instrument orderbook.Instrument
	OrderID    orderbook.OrderID // assigned id for ADD, target id otherwise
	Accepted   bool

	// TRADE
	Trade orderbook.Trade
}
