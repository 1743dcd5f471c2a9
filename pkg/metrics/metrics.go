package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transaction metrics
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_transactions_total",
			Help: "Total number of deployment transactions by terminal status",
		},
		[]string{"status"},
	)

	TransactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rollout_transaction_duration_seconds",
			Help:    "Deployment transaction duration in seconds",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10),
		},
	)

	// Stage metrics
	StagePercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rollout_stage_percent",
			Help: "Current candidate traffic percent per region",
		},
		[]string{"service", "region"},
	)

	StagesAborted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_stages_aborted_total",
			Help: "Total number of aborted stages by region",
		},
		[]string{"service", "region"},
	)

	// Rollback metrics
	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_rollbacks_total",
			Help: "Total number of rollbacks by reason",
		},
		[]string{"reason"},
	)

	RollbackFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rollout_rollback_failures_total",
			Help: "Total number of rollbacks whose traffic call failed after all retries",
		},
	)

	// Health metrics
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_health_checks_total",
			Help: "Total number of health probes by outcome",
		},
		[]string{"outcome"},
	)

	// SLO metrics
	BurnRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rollout_slo_burn_rate",
			Help: "Current error budget burn rate per service",
		},
		[]string{"service"},
	)

	BurnSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_slo_burn_signals_total",
			Help: "Total number of SLO burn signals by severity",
		},
		[]string{"severity"},
	)

	// Retention metrics
	RevisionsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rollout_revisions_pruned_total",
			Help: "Total number of revisions deleted by retention pruning",
		},
	)
)

func init() {
	prometheus.MustRegister(TransactionsTotal)
	prometheus.MustRegister(TransactionDuration)
	prometheus.MustRegister(StagePercent)
	prometheus.MustRegister(StagesAborted)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(RollbackFailures)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(BurnRate)
	prometheus.MustRegister(BurnSignals)
	prometheus.MustRegister(RevisionsPruned)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}
