package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shardmatch/config"
	"shardmatch/domain/orderbook"
	"shardmatch/infra/ids"
	"shardmatch/infra/logging"
	"shardmatch/infra/memory"
	"shardmatch/jobs/reporter"
	"shardmatch/report"
	"shardmatch/service"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %+v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("engine stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	// ---------------- Collaborators ----------------

	deps, err := openDeps(cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	// ---------------- Engine ----------------

	wait, err := memory.ParseWaitStrategy(cfg.Engine.WaitStrategy, cfg.Engine.MaxBackoff)
	if err != nil {
		return err
	}

	instruments := make([]orderbook.Instrument, len(cfg.Engine.Instruments))
	for i, s := range cfg.Engine.Instruments {
		instruments[i] = orderbook.Instrument(s)
	}

	alloc := ids.NewAllocator(cfg.Engine.IDBlockSize)
	sys, err := service.Build(instruments, alloc, service.Options{
		Workers:       cfg.Engine.Workers,
		QueueCapacity: cfg.Engine.QueueCapacity,
		EventCapacity: cfg.Engine.EventCapacity,
		OrderHint:     cfg.Engine.OrderHint,
	})
	if err != nil {
		return errors.Wrap(err, "build routing system")
	}
	log.Info("routing system built",
		zap.Int("workers", len(sys.Workers)),
		zap.Int("instruments", len(instruments)),
		zap.Uint64("id_block", alloc.BlockSize()))

	// ---------------- Background Jobs ----------------

	accepted := make(chan acceptedOrder, 4096)
	rep := reporter.New(sys.Workers, deps.outbox,
		reporter.WithLogger(log),
		reporter.WithMetrics(deps.metrics),
		reporter.WithAckHandler(func(ev service.Event) {
			if ev.Command != service.CommandAdd || !ev.Accepted {
				return
			}
			select {
			case accepted <- acceptedOrder{instrument: ev.Instrument, id: ev.OrderID}:
			default:
			}
		}),
	)

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	jobs, jobsCtx := errgroup.WithContext(jobsCtx)
	jobs.Go(func() error { return rep.Run(jobsCtx) })
	if deps.broadcaster != nil {
		jobs.Go(func() error { return deps.broadcaster.Run(jobsCtx) })
	}
	if deps.metricsServer != nil {
		jobs.Go(func() error { return serveMetrics(jobsCtx, deps.metricsServer, log) })
	}

	// ---------------- Workers ----------------

	// a failing worker cancels flowCtx, so the order flow stops instead of
	// waiting on a ring nobody drains
	workers, flowCtx := errgroup.WithContext(ctx)
	for _, wc := range sys.Workers {
		w := service.NewWorker(wc,
			service.WithWaitStrategy(wait),
			service.WithLogger(log),
			service.WithMetrics(deps.metrics))
		workers.Go(w.Run)
	}

	// ---------------- Order Flow ----------------

	producer := service.NewProducer(sys,
		service.WithProducerWait(memory.Yield{}),
		service.WithProducerMetrics(deps.metrics))

	start := time.Now()
	sent, flowErr := generateLoad(flowCtx, producer, instruments, cfg.Load, accepted)
	if flowErr != nil && !errors.Is(flowErr, context.Canceled) {
		log.Warn("order flow interrupted", zap.Error(flowErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := producer.SubmitAllShutdownCommands(shutdownCtx); err != nil {
		if flowCtx.Err() != nil && ctx.Err() == nil {
			// a worker already failed and stopped draining its ring
			return errors.Wrap(err, "broadcast shutdown after worker failure")
		}
		return errors.Wrap(err, "broadcast shutdown")
	}
	workerErr := workers.Wait()
	elapsed := time.Since(start)

	// ---------------- Report ----------------

	// workers have returned; the books are safe to read from here
	var trades uint64
	depths := make([]report.Depth, 0, len(instruments))
	for _, inst := range instruments {
		book, _ := sys.Book(inst)
		d := report.Capture(book, cfg.Load.DepthTop, time.Now())
		depths = append(depths, d)
		trades += d.Trades
		log.Info("book",
			zap.String("instrument", d.Instrument),
			zap.Stringer("best_bid", d.BestBid),
			zap.Stringer("best_ask", d.BestAsk),
			zap.Int("bid_levels", book.BidLevels()),
			zap.Int("ask_levels", book.AskLevels()),
			zap.Uint64("trades", d.Trades))
	}
	log.Info("order flow finished",
		zap.Int("commands", sent),
		zap.Uint64("trades", trades),
		zap.Duration("elapsed", elapsed),
		zap.Float64("commands_per_sec", float64(sent)/elapsed.Seconds()))

	if deps.cache != nil {
		if err := deps.cache.StoreAll(shutdownCtx, depths); err != nil {
			log.Warn("depth cache update failed", zap.Error(err))
		}
	}

	// ---------------- Shutdown ----------------

	stopJobs()
	if err := jobs.Wait(); err != nil {
		return errors.Wrap(err, "background jobs")
	}
	if deps.broadcaster != nil {
		n, err := deps.broadcaster.PublishOnce(shutdownCtx)
		log.Info("final publish", zap.Int("acked", n), zap.Error(err))
	}
	return workerErr
}
