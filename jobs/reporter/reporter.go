// Package reporter drains worker event rings.
//
// The reporter is the single consumer of every worker's event ring. Trades
// become execution reports in the outbox; ACKs are counted and handed to an
// optional callback.
package reporter

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"shardmatch/infra/codec"
	"shardmatch/infra/memory"
	"shardmatch/infra/metrics"
	"shardmatch/infra/outbox"
	"shardmatch/service"
)

// DefaultBatch bounds how many events one pass takes from a single ring.
const DefaultBatch = 1024

const (
	idleMinSleep = 10 * time.Microsecond
	idleMaxSleep = time.Millisecond
)

type source struct {
	events     *memory.SPSCQueue[service.Event]
	commands   *memory.SPSCQueue[service.OrderCommand]
	eventDepth prometheus.Gauge
	cmdDepth   prometheus.Gauge
}

type Reporter struct {
	sources []source
	outbox  *outbox.Outbox
	log     *zap.Logger
	metrics *metrics.Metrics
	wait    memory.WaitStrategy
	newID   func() uuid.UUID
	onAck   func(service.Event)
	batch   int

	pending [][]byte

	trades atomic.Uint64
	acks   atomic.Uint64
}

type Option func(*Reporter)

func WithLogger(l *zap.Logger) Option { return func(r *Reporter) { r.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Reporter) { r.metrics = m } }

func WithWaitStrategy(w memory.WaitStrategy) Option { return func(r *Reporter) { r.wait = w } }

// WithAckHandler observes every ACK on the reporter goroutine.
func WithAckHandler(fn func(service.Event)) Option { return func(r *Reporter) { r.onAck = fn } }

// WithIDSource replaces uuid.New for execution ids.
func WithIDSource(fn func() uuid.UUID) Option { return func(r *Reporter) { r.newID = fn } }

func WithBatch(n int) Option { return func(r *Reporter) { r.batch = n } }

// New consumes the event rings of workers. ob may be nil, in which case
// trades are only counted.
func New(workers []*service.WorkerContext, ob *outbox.Outbox, opts ...Option) *Reporter {
	r := &Reporter{
		outbox: ob,
		log:    zap.NewNop(),
		wait:   memory.Backoff{SpinFor: 16, Min: idleMinSleep, Max: idleMaxSleep},
		newID:  uuid.New,
		batch:  DefaultBatch,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New(nil)
	}
	r.log = r.log.Named("reporter")
	for _, wc := range workers {
		id := strconv.Itoa(wc.ID)
		r.sources = append(r.sources, source{
			events:     wc.Events,
			commands:   wc.Commands,
			eventDepth: r.metrics.QueueDepth.WithLabelValues(id, "events"),
			cmdDepth:   r.metrics.QueueDepth.WithLabelValues(id, "commands"),
		})
	}
	return r
}

// Trades counts TRADE events seen so far.
func (r *Reporter) Trades() uint64 { return r.trades.Load() }

// Acks counts ACK events seen so far.
func (r *Reporter) Acks() uint64 { return r.acks.Load() }

// Run drains until ctx is done, then makes a last pass so that nothing
// published before cancellation is lost.
func (r *Reporter) Run(ctx context.Context) error {
	r.log.Info("started", zap.Int("rings", len(r.sources)))
	idle := 0
	for ctx.Err() == nil {
		n, err := r.DrainOnce()
		if err != nil {
			return err
		}
		if n > 0 {
			idle = 0
			continue
		}
		r.wait.Wait(idle)
		idle++
	}

	for {
		n, err := r.DrainOnce()
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}
	r.log.Info("stopped", zap.Uint64("trades", r.Trades()), zap.Uint64("acks", r.Acks()))
	return nil
}

// DrainOnce takes up to the batch size from every ring and writes the
// trades to the outbox in one batch. It returns the number of events taken.
func (r *Reporter) DrainOnce() (int, error) {
	taken := 0
	for i := range r.sources {
		src := &r.sources[i]
		for n := 0; n < r.batch; n++ {
			ev, ok := src.events.Pop()
			if !ok {
				break
			}
			taken++
			r.handle(ev)
		}
		src.eventDepth.Set(float64(src.events.Len()))
		src.cmdDepth.Set(float64(src.commands.Len()))
	}
	return taken, r.flush()
}

func (r *Reporter) handle(ev service.Event) {
	switch ev.Kind {
	case service.EventTrade:
		r.trades.Add(1)
		if r.outbox != nil {
			report := codec.FromTrade(r.newID(), ev.Trade)
			r.pending = append(r.pending, codec.Marshal(report))
		}
	case service.EventAck:
		r.acks.Add(1)
		if r.onAck != nil {
			r.onAck(ev)
		}
	default:
		r.log.Warn("unknown event kind", zap.Uint8("kind", uint8(ev.Kind)), zap.Int("worker", ev.Worker))
	}
}

func (r *Reporter) flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	if _, err := r.outbox.AppendBatch(r.pending); err != nil {
		return errors.Wrapf(err, "append %d execution reports", len(r.pending))
	}
	r.metrics.OutboxAppended.Add(float64(len(r.pending)))
	clear(r.pending)
	r.pending = r.pending[:0]
	return nil
}
