package service

import (
	"github.com/cockroachdb/errors"

	"shardmatch/domain/orderbook"
	"shardmatch/infra/ids"
	"shardmatch/infra/memory"
)

const (
	DefaultQueueCapacity = 1 << 16
	DefaultEventCapacity = 1 << 16
)

var (
	ErrNoInstruments       = errors.New("no instruments")
	ErrNoWorkers           = errors.New("worker count must be positive")
	ErrDuplicateInstrument = errors.New("duplicate instrument")
	ErrEmptyInstrument     = errors.New("empty instrument name")
	ErrQueueCapacity       = errors.New("queue capacity must be at least 2")
	ErrUnknownInstrument   = errors.New("unknown instrument")
)

// Options sizes a routing system. Zero capacities take the defaults.
type Options struct {
	Workers       int
	QueueCapacity int
	EventCapacity int
	// OrderHint is the expected number of orders over all instruments; each
	// book pre-sizes its pool to OrderHint/len(instruments)+1.
	OrderHint int
}

// WorkerContext is everything one worker owns. Contexts sit in their own
// cache lines so neighbouring workers do not share them.
type WorkerContext struct {
	_ [64]byte

	ID       int
	Commands *memory.SPSCQueue[OrderCommand]
	Events   *memory.SPSCQueue[Event]
	Books    map[orderbook.Instrument]*orderbook.OrderBook

	// instruments in assignment order
	instruments []orderbook.Instrument

	_ [64]byte
}

// Instruments lists the instruments owned by the worker in assignment order.
func (wc *WorkerContext) Instruments() []orderbook.Instrument {
	return wc.instruments
}

// OrderRoutingSystem maps instruments to workers. The map is written once by
// Build and only read afterwards.
type OrderRoutingSystem struct {
	Workers []*WorkerContext
	route   map[orderbook.Instrument]int
	order   []orderbook.Instrument
}

// Build assigns instrument i to worker i % Workers and creates one book per
// instrument. Workers beyond the number of instruments own nothing.
func Build(instruments []orderbook.Instrument, alloc *ids.Allocator, opts Options) (*OrderRoutingSystem, error) {
	if len(instruments) == 0 {
		return nil, ErrNoInstruments
	}
	if opts.Workers <= 0 {
		return nil, errors.Wrapf(ErrNoWorkers, "workers=%d", opts.Workers)
	}
	if opts.QueueCapacity == 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.EventCapacity == 0 {
		opts.EventCapacity = DefaultEventCapacity
	}
	if opts.QueueCapacity < 2 || opts.EventCapacity < 2 {
		return nil, errors.Wrapf(ErrQueueCapacity, "queue=%d events=%d", opts.QueueCapacity, opts.EventCapacity)
	}
	if alloc == nil {
		return nil, errors.AssertionFailedf("nil id allocator")
	}

	route := make(map[orderbook.Instrument]int, len(instruments))
	for i, inst := range instruments {
		if inst == "" {
			return nil, errors.Wrapf(ErrEmptyInstrument, "position %d", i)
		}
		if _, dup := route[inst]; dup {
			return nil, errors.Wrapf(ErrDuplicateInstrument, "%q", inst)
		}
		route[inst] = i % opts.Workers
	}

	poolHint := max(opts.OrderHint, 0)/len(instruments) + 1

	s := &OrderRoutingSystem{
		Workers: make([]*WorkerContext, opts.Workers),
		route:   route,
		order:   append([]orderbook.Instrument(nil), instruments...),
	}
	for i := range s.Workers {
		s.Workers[i] = &WorkerContext{
			ID:       i,
			Commands: memory.NewSPSCQueue[OrderCommand](opts.QueueCapacity),
			Events:   memory.NewSPSCQueue[Event](opts.EventCapacity),
			Books:    make(map[orderbook.Instrument]*orderbook.OrderBook),
		}
	}
	for _, inst := range instruments {
		wc := s.Workers[route[inst]]
		wc.Books[inst] = orderbook.NewOrderBook(inst, alloc, orderbook.WithPoolCapacity(poolHint))
		wc.instruments = append(wc.instruments, inst)
	}
	return s, nil
}

// Route returns the worker index owning instrument.
func (s *OrderRoutingSystem) Route(instrument orderbook.Instrument) (int, bool) {
	i, ok := s.route[instrument]
	return i, ok
}

// Instruments returns the instruments in the order given to Build.
func (s *OrderRoutingSystem) Instruments() []orderbook.Instrument {
	return s.order
}

// Book finds the book for instrument. Only the owning worker may touch it
// while that worker runs.
func (s *OrderRoutingSystem) Book(instrument orderbook.Instrument) (*orderbook.OrderBook, bool) {
	i, ok := s.route[instrument]
	if !ok {
		return nil, false
	}
	b, ok := s.Workers[i].Books[instrument]
	return b, ok
}
