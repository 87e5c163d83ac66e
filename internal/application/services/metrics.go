package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the transaction coordinator's collectors
type Metrics struct {
	Transactions   *prometheus.CounterVec
	Pending        prometheus.Gauge
	CommitDuration prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ovsrestd",
			Name:      "transactions_total",
			Help:      "Submitted transactions by terminal status.",
		}, []string{"status"}),
		Pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ovsrestd",
			Name:      "pending_transactions",
			Help:      "Transactions waiting for the store to confirm a commit.",
		}),
		CommitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ovsrestd",
			Name:      "commit_duration_seconds",
			Help:      "Time from submit to terminal status.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
