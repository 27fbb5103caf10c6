// Package observability exposes Prometheus metrics for the simulation
// loop and economy.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the world.
type Metrics struct {
	TicksCommitted prometheus.Counter
	TickRetries    prometheus.Counter
	TickDuration   prometheus.Histogram
	CurrentTick    prometheus.Gauge

	TradesSettled   prometheus.Counter
	TradesFailed    prometheus.Counter
	Starvations     prometheus.Counter
	Desertions      prometheus.Counter
	EventTransitions prometheus.Counter
	ActiveEvents    prometheus.Gauge
	OrdersQueued    prometheus.Counter
	OrdersRejected  prometheus.Counter
}

// New registers all metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TicksCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "crownfall_ticks_committed_total",
			Help: "Ticks fully processed and durably committed.",
		}),
		TickRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "crownfall_tick_commit_retries_total",
			Help: "Tick commits retried after a persistence failure.",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crownfall_tick_duration_seconds",
			Help:    "Wall-clock time spent processing one tick.",
			Buckets: prometheus.DefBuckets,
		}),
		CurrentTick: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crownfall_current_tick",
			Help: "The world clock.",
		}),
		TradesSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "crownfall_trades_settled_total",
			Help: "Orders fully executed against the ledger.",
		}),
		TradesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "crownfall_trades_failed_total",
			Help: "Orders rejected at settlement (insufficient balance or funds).",
		}),
		Starvations: factory.NewCounter(prometheus.CounterOpts{
			Name: "crownfall_starvation_penalties_total",
			Help: "Starvation penalties applied by the upkeep pass.",
		}),
		Desertions: factory.NewCounter(prometheus.CounterOpts{
			Name: "crownfall_desertion_penalties_total",
			Help: "Desertion penalties applied by the upkeep pass.",
		}),
		EventTransitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "crownfall_world_event_transitions_total",
			Help: "World events spawned or expired by the event engine.",
		}),
		ActiveEvents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crownfall_world_events_active",
			Help: "World events currently active.",
		}),
		OrdersQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "crownfall_orders_queued_total",
			Help: "Player orders accepted into the next tick.",
		}),
		OrdersRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "crownfall_orders_rejected_total",
			Help: "Player orders rejected at submission.",
		}),
	}
}
