package service

import (
	"shardmatch/domain/orderbook"
)

type CommandType uint8

const (
	CommandAdd CommandType = iota
	CommandModify
	CommandCancel
	CommandShutdown
)

func (c CommandType) String() string {
	switch c {
	case CommandAdd:
		return "ADD"
	case CommandModify:
		return "MODIFY"
	case CommandCancel:
		return "CANCEL"
	case CommandShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// OrderCommand is the unit carried by a command ring.
//
// ADD carries the client order. MODIFY carries the target id with the new
// price and quantity. CANCEL carries the target id. The instrument always
// selects the book. SHUTDOWN carries nothing. Tag is opaque to the engine
// and echoed on the ACK event.
type OrderCommand struct {
	Type  CommandType
	Tag   uint64
	Order orderbook.Order
}

func AddCommand(o orderbook.Order) OrderCommand {
	return OrderCommand{Type: CommandAdd, Order: o}
}

func ModifyCommand(instrument orderbook.Instrument, id orderbook.OrderID, price orderbook.Price, qty orderbook.Quantity) OrderCommand {
	return OrderCommand{
		Type: CommandModify,
		Order: orderbook.Order{
			ID:         id,
			Instrument: instrument,
			Price:      price,
			Quantity:   qty,
		},
	}
}

func CancelCommand(instrument orderbook.Instrument, id orderbook.OrderID) OrderCommand {
	return OrderCommand{
		Type:  CommandCancel,
		Order: orderbook.Order{ID: id, Instrument: instrument},
	}
}

func ShutdownCommand() OrderCommand {
	return OrderCommand{Type: CommandShutdown}
}

// WithTag returns a copy of c carrying a client correlation tag.
func (c OrderCommand) WithTag(tag uint64) OrderCommand {
	c.Tag = tag
	return c
}
