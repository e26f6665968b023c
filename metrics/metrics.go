// Package metrics exposes prometheus instrumentation for the points engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the engine's metric families on a private registry.
type Collector struct {
	registry *prometheus.Registry

	transactionsProcessed *prometheus.CounterVec
	transactionsFailed    *prometheus.CounterVec
	transactionsReversed  prometheus.Counter
	processingDuration    prometheus.Histogram
	conflictRetries       prometheus.Counter
	expiredTotal          prometheus.Counter
	expiredAccounts       prometheus.Counter
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		transactionsProcessed: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "points_transactions_processed_total",
			Help: "Completed transactions by kind",
		}, []string{"kind"}),
		transactionsFailed: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "points_transactions_failed_total",
			Help: "Rejected or failed transactions by reason",
		}, []string{"reason"}),
		transactionsReversed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "points_transactions_reversed_total",
			Help: "Transactions reversed",
		}),
		processingDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "points_transaction_duration_seconds",
			Help:    "Time taken to process a transaction",
			Buckets: prometheus.DefBuckets,
		}),
		conflictRetries: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "points_balance_conflicts_total",
			Help: "Compare-and-swap conflicts surfaced to callers",
		}),
		expiredTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "points_expired_points_total",
			Help: "Points forfeited by expiration cycles",
		}),
		expiredAccounts: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "points_expired_accounts_total",
			Help: "Buyer accounts zeroed by expiration cycles",
		}),
	}
}

func (c *Collector) TransactionProcessed(kind string, duration time.Duration) {
	c.transactionsProcessed.WithLabelValues(kind).Inc()
	c.processingDuration.Observe(duration.Seconds())
}

func (c *Collector) TransactionFailed(reason string) {
	c.transactionsFailed.WithLabelValues(reason).Inc()
}

func (c *Collector) TransactionReversed() {
	c.transactionsReversed.Inc()
}

func (c *Collector) ConflictSurfaced() {
	c.conflictRetries.Inc()
}

func (c *Collector) CycleSettled(accounts int, total float64) {
	c.expiredAccounts.Add(float64(accounts))
	c.expiredTotal.Add(total)
}

// Handler serves the /metrics endpoint for this registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
