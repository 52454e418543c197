package notify

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atonstream_notify_events_total",
			Help: "Number of change events raised, by kind",
		},
		[]string{"kind"},
	)
	metricDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atonstream_notify_dropped_total",
			Help: "Number of change events dropped for slow subscribers",
		},
	)
)

func init() {
	prometheus.MustRegister(metricEvents)
	prometheus.MustRegister(metricDropped)
}
