package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type SettlementMetrics struct {
	instructionsTotal *prometheus.CounterVec
	harvestsTotal     prometheus.Counter
	harvestedAmount   prometheus.Counter
	payoutsTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			instructionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_instructions_total",
				Help: "Count of processed cross-chain instructions by action and outcome.",
			}, []string{"action", "outcome"}),
			harvestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_harvests_total",
				Help: "Count of completed yield harvests.",
			}),
			harvestedAmount: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_harvested_amount_total",
				Help: "Cumulative harvested yield in base units.",
			}),
			payoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_payouts_total",
				Help: "Count of outbound payouts by destination kind.",
			}, []string{"destination"}),
			requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "settlement_rpc_duration_seconds",
				Help:    "JSON-RPC request latency by method.",
				Buckets: prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			settlementRegistry.instructionsTotal,
			settlementRegistry.harvestsTotal,
			settlementRegistry.harvestedAmount,
			settlementRegistry.payoutsTotal,
			settlementRegistry.requestDuration,
		)
	})
	return settlementRegistry
}

func (m *SettlementMetrics) ObserveInstruction(action, outcome string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.instructionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *SettlementMetrics) ObserveHarvest(amount float64) {
	if m == nil {
		return
	}
	m.harvestsTotal.Inc()
	if amount > 0 {
		m.harvestedAmount.Add(amount)
	}
}

func (m *SettlementMetrics) ObservePayout(destination string) {
	if m == nil {
		return
	}
	if destination == "" {
		destination = "unknown"
	}
	m.payoutsTotal.WithLabelValues(destination).Inc()
}

func (m *SettlementMetrics) ObserveRequest(method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
