// Package metrics — Prometheus metrics for observability.
//
// Primary metrics the engines update during operation:
//   - futures_orders_total{strategy,slot}       – orders placed per slot
//   - futures_cancels_total{strategy}           – cancel requests issued
//   - futures_unknown_orders_total{strategy}    – benign unknown-order resolutions
//   - futures_transport_errors_total{strategy}  – non-benign transport failures
//   - futures_forced_liquidations_total{strategy}
//   - futures_trades_total{strategy}            – completed round trips
//   - futures_realized_pnl{strategy}            – cumulative realized PnL (gauge)
//   - futures_unrealized_pnl{strategy,source}   – derived vs reported (gauge)
//   - futures_session_volume{strategy}          – approximated session volume (gauge)
//
// Registered in init() and served by the HTTP handler cmd starts at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "futures_orders_total",
			Help: "Orders placed, by strategy and slot",
		},
		[]string{"strategy", "slot"},
	)

	Cancels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "futures_cancels_total",
			Help: "Cancel requests issued",
		},
		[]string{"strategy"},
	)

	UnknownOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "futures_unknown_orders_total",
			Help: "Benign unknown-order resolutions",
		},
		[]string{"strategy"},
	)

	TransportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "futures_transport_errors_total",
			Help: "Non-benign transport failures",
		},
		[]string{"strategy"},
	)

	ForcedLiquidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "futures_forced_liquidations_total",
			Help: "Risk stops that closed a position at market",
		},
		[]string{"strategy"},
	)

	Trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "futures_trades_total",
			Help: "Completed round trips",
		},
		[]string{"strategy"},
	)

	RealizedPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "futures_realized_pnl",
			Help: "Cumulative realized PnL for the session",
		},
		[]string{"strategy"},
	)

	// UnrealizedPnL is labeled by source because the two measures can
	// legitimately disagree; exporting both makes the divergence visible.
	UnrealizedPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "futures_unrealized_pnl",
			Help: "Unrealized PnL (source: derived|reported)",
		},
		[]string{"strategy", "source"},
	)

	SessionVolume = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "futures_session_volume",
			Help: "Approximated traded volume this session",
		},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(
		Orders,
		Cancels,
		UnknownOrders,
		TransportErrors,
		ForcedLiquidations,
		Trades,
		RealizedPnL,
		UnrealizedPnL,
		SessionVolume,
	)
}
