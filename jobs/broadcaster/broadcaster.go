// Package broadcaster publishes outbox records to the broker.
package broadcaster

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"shardmatch/infra/codec"
	"shardmatch/infra/kafka"
	"shardmatch/infra/metrics"
	"shardmatch/infra/outbox"
)

const (
	DefaultInterval   = 250 * time.Millisecond
	DefaultMaxRetries = 5
)

type Options struct {
	Interval   time.Duration
	MaxRetries uint32
	// Compact drops ACKED records after every pass.
	Compact bool
}

type Broadcaster struct {
	outbox  *outbox.Outbox
	pub     kafka.Publisher
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(ob *outbox.Outbox, pub kafka.Publisher, opts Options, log *zap.Logger, m *metrics.Metrics) *Broadcaster {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Broadcaster{
		outbox:  ob,
		pub:     pub,
		opts:    opts,
		log:     log.Named("broadcaster"),
		metrics: m,
	}
}

// ------------------------------------------------
// LOOP
// ------------------------------------------------

// Run publishes on every tick until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.Info("started", zap.Duration("interval", b.opts.Interval))

	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return nil
		case <-ticker.C:
			if _, err := b.PublishOnce(ctx); err != nil && ctx.Err() == nil {
				b.log.Warn("publish pass failed", zap.Error(err))
			}
		}
	}
}

// ------------------------------------------------
// ONE PASS
// ------------------------------------------------

// PublishOnce tries every NEW record once and returns how many were
// acknowledged. A failed publish sends the record back to NEW until it has
// used up MaxRetries, then parks it as FAILED.
func (b *Broadcaster) PublishOnce(ctx context.Context) (int, error) {
	var batch []outbox.Record
	if err := b.outbox.ScanByState(outbox.StateNew, func(rec outbox.Record) error {
		batch = append(batch, rec)
		return nil
	}); err != nil {
		return 0, errors.Wrap(err, "scan outbox")
	}

	acked := 0
	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			return acked, err
		}
		ok, err := b.publish(ctx, rec)
		if err != nil {
			return acked, err
		}
		if ok {
			acked++
		}
	}

	if b.opts.Compact && acked > 0 {
		if _, err := b.outbox.DeleteAcked(); err != nil {
			return acked, errors.Wrap(err, "compact outbox")
		}
	}
	return acked, nil
}

func (b *Broadcaster) publish(ctx context.Context, rec outbox.Record) (bool, error) {
	report, err := codec.Unmarshal(rec.Payload)
	if err != nil {
		b.log.Error("undecodable outbox record", zap.Uint64("seq", rec.Seq), zap.Error(err))
		b.metrics.OutboxFailed.Inc()
		return false, b.outbox.MarkFailed(rec.Seq)
	}

	if err := b.outbox.MarkSent(rec.Seq); err != nil {
		return false, err
	}

	start := time.Now()
	err = b.pub.Publish(ctx, report.Key(), rec.Payload)
	b.metrics.PublishLatency.Observe(time.Since(start).Seconds())

	if err == nil {
		b.metrics.OutboxPublished.Inc()
		return true, b.outbox.MarkAcked(rec.Seq)
	}

	b.metrics.PublishErrors.Inc()
	retries, rerr := b.outbox.MarkRetry(rec.Seq)
	if rerr != nil {
		return false, rerr
	}
	if retries < b.opts.MaxRetries {
		b.log.Debug("publish failed, will retry",
			zap.Uint64("seq", rec.Seq), zap.Uint32("retries", retries), zap.Error(err))
		return false, nil
	}

	b.log.Error("giving up on execution report",
		zap.Uint64("seq", rec.Seq),
		zap.String("exec_id", report.ExecID.String()),
		zap.Error(err))
	b.metrics.OutboxFailed.Inc()
	return false, b.outbox.MarkFailed(rec.Seq)
}

func (b *Broadcaster) Close() error {
	return b.pub.Close()
}
