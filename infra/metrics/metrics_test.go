package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TradesExecuted.WithLabelValues("SPY").Add(3)
	m.ProducerRejects.WithLabelValues(ReasonQueueFull).Inc()
	m.OutboxAppended.Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.TradesExecuted.WithLabelValues("SPY")))

	expected := `
# HELP shardmatch_producer_rejects_total Commands the producer could not enqueue
# TYPE shardmatch_producer_rejects_total counter
shardmatch_producer_rejects_total{reason="queue_full"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "shardmatch_producer_rejects_total"))
}

func TestUnregistered(t *testing.T) {
	a, b := New(nil), New(nil)
	a.OutboxAppended.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.OutboxAppended))
	assert.Zero(t, testutil.ToFloat64(b.OutboxAppended))
}

func TestDoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
