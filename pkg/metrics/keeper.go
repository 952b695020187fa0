package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels recorded per processed payment.
const (
	OutcomeExecuted  = "executed"
	OutcomeCaughtUp  = "caught_up"
	OutcomeCancelled = "cancelled"
	OutcomeSkipped   = "skipped"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// KeeperMetrics records tick and per-payment execution metadata.
type KeeperMetrics struct {
	tickDuration    *prometheus.HistogramVec
	payments        *prometheus.CounterVec
	operatorBalance prometheus.Gauge
	healthy         prometheus.Gauge
}

// NewKeeperMetrics registers the keeper metrics on the provided registerer.
func NewKeeperMetrics(reg prometheus.Registerer) *KeeperMetrics {
	if reg == nil {
		return &KeeperMetrics{}
	}
	tickDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keeper_tick_duration_seconds",
		Help:    "Duration of keeper ticks in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_payments_total",
		Help: "Processed payments by outcome.",
	}, []string{"outcome"})
	operatorBalance := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_operator_balance_wei",
		Help: "Native balance of the operator account in wei.",
	})
	healthy := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_healthy",
		Help: "1 when the keeper's dependencies pass health checks, 0 otherwise.",
	})
	reg.MustRegister(tickDuration, payments, operatorBalance, healthy)
	return &KeeperMetrics{
		tickDuration:    tickDuration,
		payments:        payments,
		operatorBalance: operatorBalance,
		healthy:         healthy,
	}
}

// ObserveTickDuration records the duration for the named job.
func (k *KeeperMetrics) ObserveTickDuration(job string, duration time.Duration) {
	if k == nil || k.tickDuration == nil {
		return
	}
	k.tickDuration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncPayment increments the processed-payment counter for an outcome.
func (k *KeeperMetrics) IncPayment(outcome string) {
	if k == nil || k.payments == nil {
		return
	}
	k.payments.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// SetOperatorBalance publishes the latest operator balance reading.
// Precision loss past float64 is acceptable for a gauge.
func (k *KeeperMetrics) SetOperatorBalance(balance *big.Int) {
	if k == nil || k.operatorBalance == nil || balance == nil {
		return
	}
	value, _ := new(big.Float).SetInt(balance).Float64()
	k.operatorBalance.Set(value)
}

// SetHealthy publishes the aggregate health-check verdict.
func (k *KeeperMetrics) SetHealthy(healthy bool) {
	if k == nil || k.healthy == nil {
		return
	}
	if healthy {
		k.healthy.Set(1)
		return
	}
	k.healthy.Set(0)
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
