package climit

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "atonstream"
	subsystem = "limit"
)

var labelNames = []string{"limit"}

var (
	metricLimit = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "tokens",
		Help: "Configured number of tokens",
	}, labelNames)
	metricActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "active",
		Help: "Tokens currently held",
	}, labelNames)
	metricWaiting = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "waiting",
		Help: "Callers blocked in Acquire",
	}, labelNames)
	metricFull = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "full_total",
		Help: "TryAcquire calls that found no free token",
	}, labelNames)
	metricWaitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "wait_seconds",
		Help:    "Time spent waiting for a token",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, labelNames)
	metricHeldSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "held_seconds",
		Help:    "Time a token was held; for connections this is the connection lifetime",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, labelNames)
)

func init() {
	prometheus.MustRegister(
		metricLimit,
		metricActive,
		metricWaiting,
		metricFull,
		metricWaitSeconds,
		metricHeldSeconds,
	)
}
