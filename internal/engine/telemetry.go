package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	signalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "execution",
			Subsystem: "live",
			Name:      "signals_total",
			Help:      "Actionable signals emitted by the live strategy",
		},
		[]string{"kind"},
	)

	ordersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "execution",
			Subsystem: "live",
			Name:      "orders_total",
			Help:      "Live orders submitted, by side and outcome",
		},
		[]string{"side", "result"},
	)

	tickErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "execution",
			Subsystem: "live",
			Name:      "tick_errors_total",
			Help:      "Poll ticks that ended in an error",
		},
	)

	fillWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "execution",
			Subsystem: "live",
			Name:      "fill_wait_seconds",
			Help:      "Time spent waiting for fill details after an accepted order",
			Buckets:   prometheus.DefBuckets,
		},
	)

	engineRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "execution",
			Subsystem: "live",
			Name:      "running",
			Help:      "1 while the live engine is running",
		},
	)
)
