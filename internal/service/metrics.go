package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics covers the order API surface and the match cycle loop. The
// cycle observer methods satisfy the coordinator's Metrics interface.
type Metrics struct {
	OrderSubmissions   *prometheus.CounterVec
	OrderCancellations *prometheus.CounterVec

	MatchCycles     *prometheus.CounterVec
	TradesMatched   *prometheus.CounterVec
	CycleLatency    prometheus.Histogram
	OrdersReaped    *prometheus.CounterVec
	NotifyFailures  *prometheus.CounterVec
	OrderBookDepth  *prometheus.GaugeVec
	EventsProcessed *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrderSubmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_submissions_total",
				Help: "Total order submission attempts.",
			},
			[]string{"status"},
		),
		OrderCancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_cancellations_total",
				Help: "Total order cancellation attempts.",
			},
			[]string{"status"},
		),
		MatchCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_cycles_total",
				Help: "Total committed match cycles.",
			},
			[]string{"instrument"},
		),
		TradesMatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trades_matched_total",
				Help: "Total trades produced by match cycles.",
			},
			[]string{"instrument"},
		),
		CycleLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "match_cycle_duration_seconds",
				Help:    "Match cycle duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		OrdersReaped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_reaped_total",
				Help: "Total stale or filled orders removed by the reaper.",
			},
			[]string{"instrument"},
		),
		NotifyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notify_failures_total",
				Help: "Total best-effort notification failures.",
			},
			[]string{"kind"},
		),
		OrderBookDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "order_book_depth",
				Help: "Open orders per instrument and side at cycle start.",
			},
			[]string{"instrument", "side"},
		),
		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_events_processed_total",
				Help: "Total order events consumed from Kafka.",
			},
			[]string{"type", "status"},
		),
	}

	registry.MustRegister(
		m.OrderSubmissions,
		m.OrderCancellations,
		m.MatchCycles,
		m.TradesMatched,
		m.CycleLatency,
		m.OrdersReaped,
		m.NotifyFailures,
		m.OrderBookDepth,
		m.EventsProcessed,
	)
	return m
}

func (m *Metrics) ObserveCycle(instrument string, trades int, duration time.Duration) {
	m.MatchCycles.WithLabelValues(instrument).Inc()
	m.TradesMatched.WithLabelValues(instrument).Add(float64(trades))
	m.CycleLatency.Observe(duration.Seconds())
}

func (m *Metrics) ObserveReaped(instrument string, count int64) {
	m.OrdersReaped.WithLabelValues(instrument).Add(float64(count))
}

func (m *Metrics) ObserveNotifyFailure(kind string) {
	m.NotifyFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetBookDepth(instrument, side string, depth float64) {
	m.OrderBookDepth.WithLabelValues(instrument, side).Set(depth)
}
