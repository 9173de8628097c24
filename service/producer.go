package service

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"shardmatch/infra/memory"
	"shardmatch/infra/metrics"
)

// Producer is the single writer of every command ring of a routing system.
// It must be used from one goroutine at a time.
type Producer struct {
	sys  *OrderRoutingSystem
	wait memory.WaitStrategy

	rejectUnknown prometheus.Counter
	rejectFull    prometheus.Counter
}

type ProducerOption func(*Producer)

func WithProducerWait(w memory.WaitStrategy) ProducerOption {
	return func(p *Producer) { p.wait = w }
}

func WithProducerMetrics(m *metrics.Metrics) ProducerOption {
	return func(p *Producer) {
		p.rejectUnknown = m.ProducerRejects.WithLabelValues(metrics.ReasonUnknownInstrument)
		p.rejectFull = m.ProducerRejects.WithLabelValues(metrics.ReasonQueueFull)
	}
}

func NewProducer(sys *OrderRoutingSystem, opts ...ProducerOption) *Producer {
	p := &Producer{sys: sys, wait: memory.Yield{}}
	WithProducerMetrics(metrics.New(nil))(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit enqueues cmd on the owning worker's ring. It returns false when
// the instrument is not routed or the ring is full.
func (p *Producer) Submit(cmd OrderCommand) bool {
	i, ok := p.sys.route[cmd.Order.Instrument]
	if !ok {
		p.rejectUnknown.Inc()
		return false
	}
	if !p.sys.Workers[i].Commands.Push(cmd) {
		p.rejectFull.Inc()
		return false
	}
	return true
}

// SubmitWait is Submit that waits out a full ring until ctx is done.
func (p *Producer) SubmitWait(ctx context.Context, cmd OrderCommand) error {
	i, ok := p.sys.route[cmd.Order.Instrument]
	if !ok {
		p.rejectUnknown.Inc()
		return errors.Wrapf(ErrUnknownInstrument, "%q", cmd.Order.Instrument)
	}
	return p.push(ctx, p.sys.Workers[i], cmd)
}

// SubmitAllShutdownCommands pushes one SHUTDOWN to every worker, waiting on
// full rings. Workers stop after draining what was queued before it.
func (p *Producer) SubmitAllShutdownCommands(ctx context.Context) error {
	for _, wc := range p.sys.Workers {
		if err := p.push(ctx, wc, ShutdownCommand()); err != nil {
			return errors.Wrapf(err, "shutdown worker %d", wc.ID)
		}
	}
	return nil
}

func (p *Producer) push(ctx context.Context, wc *WorkerContext, cmd OrderCommand) error {
	for attempt := 0; !wc.Commands.Push(cmd); attempt++ {
		if err := ctx.Err(); err != nil {
			p.rejectFull.Inc()
			return errors.Wrapf(err, "worker %d ring full", wc.ID)
		}
		p.wait.Wait(attempt)
	}
	return nil
}
