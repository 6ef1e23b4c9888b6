package query

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the executor's Prometheus collectors.
type Metrics struct {
	// QueriesSubmitted counts accepted submissions by query type.
	QueriesSubmitted *prometheus.CounterVec
	// QueriesFinished counts terminal transitions by query type and outcome.
	QueriesFinished *prometheus.CounterVec
	// QueryDuration observes submission-to-terminal latency in seconds.
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates the executor collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueriesSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mimdb",
			Name:      "queries_submitted_total",
			Help:      "Accepted query submissions by type.",
		}, []string{"type"}),
		QueriesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mimdb",
			Name:      "queries_finished_total",
			Help:      "Queries reaching a terminal state by type and outcome.",
		}, []string{"type", "outcome"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mimdb",
			Name:      "query_duration_seconds",
			Help:      "Submission-to-terminal query latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"type"}),
	}

	if reg != nil {
		reg.MustRegister(m.QueriesSubmitted, m.QueriesFinished, m.QueryDuration)
	}

	return m
}
