// Package metrics declares the Prometheus series the engine publishes:
// level-state gauges, order counters and the risk loop's own trip counter
// and live margin/drawdown gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LevelsByState reports, per direction and state, how many GridLevels
	// currently sit there. Set (not incremented) on every control tick.
	LevelsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hedgegrid_levels_by_state",
			Help: "Number of grid levels currently in each lifecycle state",
		},
		[]string{"direction", "state"},
	)

	OrdersPlacedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgegrid_orders_placed_total",
			Help: "Total limit orders placed, by direction and action",
		},
		[]string{"direction", "action"},
	)

	OrdersRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgegrid_orders_rejected_total",
			Help: "Total limit orders rejected by the exchange, by direction",
		},
		[]string{"direction"},
	)

	OrdersCanceledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgegrid_orders_canceled_total",
			Help: "Total resting orders canceled, by direction and reason",
		},
		[]string{"direction", "reason"},
	)

	AccountBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hedgegrid_account_balance",
			Help: "Last observed account balance, by direction",
		},
		[]string{"direction"},
	)

	MarginRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hedgegrid_margin_ratio",
			Help: "Last observed margin ratio, by direction",
		},
		[]string{"direction"},
	)

	Drawdown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hedgegrid_aggregate_drawdown_ratio",
			Help: "Aggregate unrealized PnL over initial balance",
		},
	)

	RiskBreachesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgegrid_risk_breaches_total",
			Help: "Total emergency-unwind triggers, by reason",
		},
		[]string{"reason"},
	)

	EpochsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hedgegrid_epochs_total",
			Help: "Total grid epochs started, including post-breakout resets",
		},
	)
)
