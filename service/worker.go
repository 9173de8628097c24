package service

import (
	"runtime"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"shardmatch/domain/orderbook"
	"shardmatch/infra/memory"
	"shardmatch/infra/metrics"
)

// Worker drains one command ring into the books it owns.
type Worker struct {
	wc   *WorkerContext
	wait memory.WaitStrategy
	log  *zap.Logger

	processed [CommandShutdown][2]prometheus.Counter // [type][accepted]
	unknown   prometheus.Counter
	dropped   prometheus.Counter
	trades    map[orderbook.Instrument]prometheus.Counter
}

type WorkerOption func(*Worker)

func WithWaitStrategy(w memory.WaitStrategy) WorkerOption {
	return func(wk *Worker) { wk.wait = w }
}

func WithLogger(l *zap.Logger) WorkerOption {
	return func(wk *Worker) { wk.log = l }
}

func WithMetrics(m *metrics.Metrics) WorkerOption {
	return func(wk *Worker) { wk.bindMetrics(m) }
}

// NewWorker binds a worker to wc and installs its trade observer on every
// book of wc.
func NewWorker(wc *WorkerContext, opts ...WorkerOption) *Worker {
	w := &Worker{
		wc:   wc,
		wait: memory.Spin{},
		log:  zap.NewNop(),
	}
	w.bindMetrics(metrics.New(nil))
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With(zap.Int("worker", wc.ID))
	for _, b := range wc.Books {
		b.SetTradeHandler(w.onTrade)
	}
	return w
}

func (w *Worker) bindMetrics(m *metrics.Metrics) {
	id := strconv.Itoa(w.wc.ID)
	for t := CommandAdd; t < CommandShutdown; t++ {
		w.processed[t][0] = m.CommandsProcessed.WithLabelValues(id, t.String(), metrics.ResultRejected)
		w.processed[t][1] = m.CommandsProcessed.WithLabelValues(id, t.String(), metrics.ResultOK)
	}
	w.unknown = m.UnknownInstrument.WithLabelValues(id)
	w.dropped = m.EventsDropped.WithLabelValues(id)
	w.trades = make(map[orderbook.Instrument]prometheus.Counter, len(w.wc.Books))
	for inst := range w.wc.Books {
		w.trades[inst] = m.TradesExecuted.WithLabelValues(string(inst))
	}
}

// Run polls the command ring on a locked OS thread until it pops SHUTDOWN.
//
// A broken matching invariant stops the worker; the returned error carries
// the assertion failure (see orderbook.IsInvariantViolation). Any other
// panic propagates.
func (w *Worker) Run() (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(error); ok && orderbook.IsInvariantViolation(e) {
			w.log.Error("matching invariant violated", zap.Error(e))
			err = errors.Wrapf(e, "worker %d", w.wc.ID)
			return
		}
		panic(r)
	}()

	w.log.Info("worker started", zap.Int("books", len(w.wc.Books)))
	idle := 0
	for {
		cmd, ok := w.wc.Commands.Pop()
		if !ok {
			w.wait.Wait(idle)
			idle++
			continue
		}
		idle = 0
		if cmd.Type == CommandShutdown {
			w.log.Info("worker stopped")
			return nil
		}
		w.process(cmd)
	}
}

func (w *Worker) process(cmd OrderCommand) {
	book, ok := w.wc.Books[cmd.Order.Instrument]
	if !ok {
		w.unknown.Inc()
		w.log.Debug("dropping command for unowned instrument",
			zap.String("instrument", string(cmd.Order.Instrument)),
			zap.Stringer("type", cmd.Type))
		return
	}

	var (
		id       = cmd.Order.ID
		accepted bool
	)
	switch cmd.Type {
	case CommandAdd:
		id = book.AddOrder(cmd.Order)
		accepted = id != orderbook.InvalidOrderID
	case CommandModify:
		accepted = book.ModifyOrder(id, cmd.Order.Price, cmd.Order.Quantity)
	case CommandCancel:
		accepted = book.CancelOrder(id)
	default:
		w.log.Debug("dropping command of unknown type", zap.Uint8("type", uint8(cmd.Type)))
		return
	}

	if accepted {
		w.processed[cmd.Type][1].Inc()
	} else {
		w.processed[cmd.Type][0].Inc()
	}
	w.emit(Event{
		Kind:       EventAck,
		Worker:     w.wc.ID,
		Command:    cmd.Type,
		Tag:        cmd.Tag,
		Instrument: cmd.Order.Instrument,
		OrderID:    id,
		Accepted:   accepted,
	})
}

func (w *Worker) onTrade(tr orderbook.Trade) {
	w.trades[tr.Instrument].Inc()
	w.emit(Event{Kind: EventTrade, Worker: w.wc.ID, Instrument: tr.Instrument, Trade: tr})
}

func (w *Worker) emit(ev Event) {
	if !w.wc.Events.Push(ev) {
		w.dropped.Inc()
	}
}
