package utils

import (
	"github.com/prometheus/client_golang/prometheus"
)

var lockBuckets = prometheus.ExponentialBuckets(0.00001, 10, 7) // 10µs to 10s

var (
	metricLockWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atonstream_lock_wait_seconds",
			Help:    "Time spent waiting for a monitored write lock",
			Buckets: lockBuckets,
		},
		[]string{"lock_name"},
	)
	metricLockHeld = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atonstream_lock_held_seconds",
			Help:    "Time a monitored write lock was held",
			Buckets: lockBuckets,
		},
		[]string{"lock_name"},
	)
)

func init() {
	prometheus.MustRegister(metricLockWait)
	prometheus.MustRegister(metricLockHeld)
}
