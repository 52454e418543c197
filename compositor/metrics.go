package compositor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricHeaders = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atonstream_compositor_headers_total",
			Help: "Number of header messages applied",
		},
	)
	metricBuckets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atonstream_compositor_buckets_total",
			Help: "Number of pixel buckets written",
		},
	)
	metricBucketsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atonstream_compositor_buckets_skipped_total",
			Help: "Number of pixel buckets discarded because AOVs are disabled",
		},
	)
	metricSamples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atonstream_compositor_samples_total",
			Help: "Number of float samples written",
		},
	)
	metricErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atonstream_compositor_errors_total",
			Help: "Number of messages that could not be applied",
		},
		[]string{"message"},
	)
	metricStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atonstream_compositor_streams",
			Help: "Number of sessions with stream state",
		},
	)
)

func init() {
	prometheus.MustRegister(metricHeaders)
	prometheus.MustRegister(metricBuckets)
	prometheus.MustRegister(metricBucketsSkipped)
	prometheus.MustRegister(metricSamples)
	prometheus.MustRegister(metricErrors)
	prometheus.MustRegister(metricStreams)
}
