package main

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"shardmatch/config"
	"shardmatch/infra/cache"
	"shardmatch/infra/kafka"
	"shardmatch/infra/metrics"
	"shardmatch/infra/outbox"
	"shardmatch/jobs/broadcaster"
)

// deps are the collaborators outside the matching path. Each one is
// optional and left nil when not configured.
type deps struct {
	metrics       *metrics.Metrics
	metricsServer *http.Server
	outbox        *outbox.Outbox
	broadcaster   *broadcaster.Broadcaster
	cache         *cache.DepthCache
	log           *zap.Logger
}

func openDeps(cfg config.Config, log *zap.Logger) (_ *deps, err error) {
	d := &deps{log: log}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.metrics = metrics.New(reg)
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		d.metricsServer = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if cfg.Outbox.Dir != "" {
		if d.outbox, err = outbox.Open(cfg.Outbox.Dir, outbox.WithSync(cfg.Outbox.Sync)); err != nil {
			return nil, err
		}
		log.Info("outbox open", zap.String("dir", cfg.Outbox.Dir), zap.Uint64("last_seq", d.outbox.LastSequence()))
	}

	if cfg.Kafka.Enabled() {
		pub, err := kafka.New(cfg.Kafka)
		if err != nil {
			return nil, errors.Wrap(err, "kafka publisher")
		}
		d.broadcaster = broadcaster.New(d.outbox, pub, broadcaster.Options{
			Interval:   cfg.Broadcaster.Interval,
			MaxRetries: cfg.Broadcaster.MaxRetries,
			Compact:    cfg.Broadcaster.Compact,
		}, log, d.metrics)
		log.Info("kafka publisher ready",
			zap.String("client", cfg.Kafka.Client),
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	if cfg.Redis.Enabled() {
		d.cache = cache.New(cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.cache.Ping(ctx); err != nil {
			log.Warn("redis unreachable, depth will not be cached", zap.Error(err))
			_ = d.cache.Close()
			d.cache = nil
		}
	}
	return d, nil
}

func (d *deps) Close() {
	if d.broadcaster != nil {
		if err := d.broadcaster.Close(); err != nil {
			d.log.Warn("close publisher", zap.Error(err))
		}
	}
	if d.outbox != nil {
		if err := d.outbox.Close(); err != nil {
			d.log.Warn("close outbox", zap.Error(err))
		}
	}
	if d.cache != nil {
		_ = d.cache.Close()
	}
}

func serveMetrics(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics listening", zap.String("addr", srv.Addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "metrics server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
