// Package metrics holds the Prometheus collectors of the trading engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "topdown"

var (
	once sync.Once

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "signals_total",
			Help:      "Signals emitted by the structure analyzer",
		},
		[]string{"asset", "direction"},
	)

	SignalsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "signals_dropped_total",
			Help:      "Setups discarded after target and stop were derived",
		},
		[]string{"asset", "reason"},
	)

	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "rejections_total",
			Help:      "Signals rejected by the risk governor",
		},
		[]string{"reason"},
	)

	DailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "daily_pnl",
			Help:      "Realized profit and loss of the current trading day",
		},
	)

	PositionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "positions_closed_total",
			Help:      "Closed positions by exit reason",
		},
		[]string{"reason"},
	)

	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_dropped_total",
			Help:      "Events dropped because the dispatcher queue was full",
		},
	)

	MarketDataErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "errors_total",
			Help:      "Failed or stale market data requests",
		},
		[]string{"asset", "timeframe"},
	)

	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Duration of one scan cycle over all assets",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all collectors with the default registry. Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			Signals,
			SignalsDropped,
			Rejections,
			DailyPnL,
			PositionsClosed,
			NotificationsDropped,
			MarketDataErrors,
			ScanDuration,
		)
	})
}
