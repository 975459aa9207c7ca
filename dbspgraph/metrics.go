package dbspgraph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the package's internal instrumentation points. It is
// registered against a private registry rather than prometheus.
// DefaultRegisterer: no HTTP exporter is wired (that's the out-of-scope
// "metrics exporter setup"), but the instrumentation points themselves
// are exercised on every superstep and shuffle.
var metrics = newDriverMetrics()

type driverMetrics struct {
	registry          *prometheus.Registry
	superstepDuration prometheus.Histogram
	messagesShuffled  prometheus.Counter
}

func newDriverMetrics() *driverMetrics {
	m := &driverMetrics{
		registry: prometheus.NewRegistry(),
		superstepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "superstep_duration_seconds",
			Help: "Wall-clock time to run one superstep across all workers, including the shuffle.",
		}),
		messagesShuffled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_shuffled_total",
			Help: "Total outbox entries routed into per-partition inboxes by Shuffle.",
		}),
	}
	m.registry.MustRegister(m.superstepDuration, m.messagesShuffled)
	return m
}

func (m *driverMetrics) observeSuperstep(start time.Time) {
	m.superstepDuration.Observe(time.Since(start).Seconds())
}

func (m *driverMetrics) addShuffled(n int) {
	m.messagesShuffled.Add(float64(n))
}
