package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type ledgerMetrics struct {
	TradesSettled     prometheus.Counter
	DiscountsClipped  prometheus.Counter
	BadgesUnlocked    prometheus.Counter
	HarvestsPaid      prometheus.Counter
	TradesRejected    *prometheus.CounterVec
	SettlementSeconds prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metrics     *ledgerMetrics
)

// Metrics returns the process-wide ledger metrics registry.
func Metrics() *ledgerMetrics {
	metricsOnce.Do(func() {
		metrics = &ledgerMetrics{
			TradesSettled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "perkledger",
				Subsystem: "settlement",
				Name:      "trades_settled_total",
				Help:      "Count of swaps settled to their terminal state.",
			}),
			DiscountsClipped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "perkledger",
				Subsystem: "settlement",
				Name:      "discounts_clipped_total",
				Help:      "Count of settlements whose discount hit the per-trade cap.",
			}),
			BadgesUnlocked: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "perkledger",
				Subsystem: "badges",
				Name:      "unlocked_total",
				Help:      "Count of badges unlocked across all profiles.",
			}),
			HarvestsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "perkledger",
				Subsystem: "farming",
				Name:      "harvests_total",
				Help:      "Count of reward harvests paid out.",
			}),
			TradesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "perkledger",
				Subsystem: "settlement",
				Name:      "trades_rejected_total",
				Help:      "Count of rejected swaps segmented by reason.",
			}, []string{"reason"}),
			SettlementSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "perkledger",
				Subsystem: "settlement",
				Name:      "duration_seconds",
				Help:      "Wall-clock duration of swap settlements.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			metrics.TradesSettled,
			metrics.DiscountsClipped,
			metrics.BadgesUnlocked,
			metrics.HarvestsPaid,
			metrics.TradesRejected,
			metrics.SettlementSeconds,
		)
	})
	return metrics
}
