// Package metrics provides Prometheus metrics collection for the execution
// core: trade outcomes, rule rejections, emergency flattens, and guardian
// dispatch results. Structure adapted from the teacher's
// internal/metrics/metrics.go (same New()/NewWithRegistry() promauto
// factory idiom), repurposed from bot-internal ML/WS metrics to the
// trading-execution surface this service actually exposes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the execution core exposes.
type Metrics struct {
	TradesAttempted  *prometheus.CounterVec // by user
	TradesSucceeded  *prometheus.CounterVec // by user
	TradesFailed     *prometheus.CounterVec // by user, step
	RuleRejections   *prometheus.CounterVec // by component
	OrderRetries     prometheus.Counter
	VenueErrors      *prometheus.CounterVec // by kind

	EmergencyFlattens       *prometheus.CounterVec // by user, outcome
	CriticalFlattenFailures prometheus.Counter

	GuardianActions      *prometheus.CounterVec // by action, outcome
	GuardianExecDuration  *prometheus.HistogramVec // by action

	OpenTradeDuration prometheus.Histogram
	ActivePositions   prometheus.Gauge

	CacheOutOfSync prometheus.Counter
}

// New creates and registers all metrics against the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics against a custom registry, for tests.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	f := promauto.With(registerer)
	return &Metrics{
		TradesAttempted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trades_attempted_total",
			Help: "Total number of /trade fan-out attempts per user",
		}, []string{"user"}),
		TradesSucceeded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trades_succeeded_total",
			Help: "Total number of fully installed entry-SL-TP triplets per user",
		}, []string{"user"}),
		TradesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trades_failed_total",
			Help: "Total number of failed trade attempts per user and failing step",
		}, []string{"user", "step"}),
		RuleRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rule_rejections_total",
			Help: "Total number of RuleEngine rejections by component",
		}, []string{"component"}),
		OrderRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "venue_order_retries_total",
			Help: "Total number of venue call retries due to transient errors",
		}),
		VenueErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_errors_total",
			Help: "Total number of venue errors by taxonomy kind",
		}, []string{"kind"}),
		EmergencyFlattens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emergency_flattens_total",
			Help: "Total number of Emergency Flatten invocations per user and outcome",
		}, []string{"user", "outcome"}),
		CriticalFlattenFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "critical_flatten_failures_total",
			Help: "Total number of naked positions that could not be flattened",
		}),
		GuardianActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_actions_total",
			Help: "Total number of guardian dispatcher actions by action and outcome",
		}, []string{"action", "outcome"}),
		GuardianExecDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guardian_action_duration_seconds",
			Help:    "Guardian dispatch wall-clock duration by action",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		OpenTradeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "open_trade_duration_seconds",
			Help:    "Wall-clock duration of PositionGuard.OpenTrade's critical section",
			Buckets: prometheus.DefBuckets,
		}),
		ActivePositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "active_positions",
			Help: "Number of currently active trade records across the fleet",
		}),
		CacheOutOfSync: f.NewCounter(prometheus.CounterOpts{
			Name: "livetrade_cache_out_of_sync_total",
			Help: "Total number of LiveTrade external-cache writes that failed after retry",
		}),
	}
}
