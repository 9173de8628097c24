// Package metrics holds the prometheus collectors of the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shardmatch"

// Result label values.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
)

// Reject reasons seen by the producer.
const (
	ReasonUnknownInstrument = "unknown_instrument"
	ReasonQueueFull         = "queue_full"
)

type Metrics struct {
	CommandsProcessed *prometheus.CounterVec // worker, type, result
	UnknownInstrument *prometheus.CounterVec // worker
	TradesExecuted    *prometheus.CounterVec // instrument
	EventsDropped     *prometheus.CounterVec // worker
	ProducerRejects   *prometheus.CounterVec // reason
	QueueDepth        *prometheus.GaugeVec   // worker, queue

	OutboxAppended  prometheus.Counter
	OutboxPublished prometheus.Counter
	OutboxFailed    prometheus.Counter
	PublishErrors   prometheus.Counter
	PublishLatency  prometheus.Histogram
}

// New builds the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests and library users without an
// exporter want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_processed_total",
			Help:      "Commands applied by workers",
		}, []string{"worker", "type", "result"}),

		UnknownInstrument: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_instrument_total",
			Help:      "Commands dropped by a worker that does not own the instrument",
		}, []string{"worker"}),

		TradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_executed_total",
			Help:      "Executions per instrument",
		}, []string{"instrument"}),

		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Worker events lost to a full event queue",
		}, []string{"worker"}),

		ProducerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_rejects_total",
			Help:      "Commands the producer could not enqueue",
		}, []string{"reason"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items waiting in a worker ring",
		}, []string{"worker", "queue"}),

		OutboxAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_appended_total",
			Help:      "Execution reports written to the outbox",
		}),

		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Execution reports acknowledged by the broker",
		}),

		OutboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_failed_total",
			Help:      "Execution reports that ran out of publish retries",
		}),

		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed publish attempts",
		}),

		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_latency_seconds",
			Help:      "Latency of one publish call",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CommandsProcessed,
		m.UnknownInstrument,
		m.TradesExecuted,
		m.EventsDropped,
		m.ProducerRejects,
		m.QueueDepth,
		m.OutboxAppended,
		m.OutboxPublished,
		m.OutboxFailed,
		m.PublishErrors,
		m.PublishLatency,
	}
}
