// Package metrics exposes Prometheus metrics for the grid bot:
//
//	grid_events_total{pair,action,side}   – events produced by the grid stepper
//	grid_orders_total{mode,side,result}   – orders sent (mode: live|paper)
//	grid_center_price{pair}               – center of the active grid
//	grid_open_levels{pair}                – levels currently holding a position
//	grid_balance_quote                    – last balance used for sizing
//	grid_realized_pnl_quote{pair}         – realized profit of closed levels
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_events_total",
			Help: "Grid events produced by the stepper",
		},
		[]string{"pair", "action", "side"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_orders_total",
			Help: "Orders sent for grid events",
		},
		[]string{"mode", "side", "result"},
	)

	CenterPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_center_price",
			Help: "Center price of the active grid",
		},
		[]string{"pair"},
	)

	OpenLevels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_open_levels",
			Help: "Grid levels currently holding a position",
		},
		[]string{"pair"},
	)

	Balance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grid_balance_quote",
			Help: "Quote balance used for sizing on the last tick",
		},
	)

	RealizedPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_realized_pnl_quote",
			Help: "Realized profit of closed levels in quote currency",
		},
		[]string{"pair"},
	)
)

func init() {
	prometheus.MustRegister(Events, Orders, CenterPrice, OpenLevels, Balance, RealizedPnL)
}

// Handler serves the default registry in the text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
