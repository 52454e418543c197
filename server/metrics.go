package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricListening = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atonstream_server_listening",
			Help: "Set to 1 while the renderer listener accepts connections",
		},
	)
	metricRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atonstream_server_running",
			Help: "Set to 1 while a renderer is streaming",
		},
	)
	metricBindFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atonstream_server_bind_failures_total",
			Help: "Number of times the listener could not bind its port",
		},
	)
	metricAcceptErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atonstream_server_accept_errors_total",
			Help: "Number of failed accepts",
		},
	)
	metricConnections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atonstream_server_connections_total",
			Help: "Number of renderer connections accepted",
		},
	)
	metricConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atonstream_server_connections_active",
			Help: "Number of renderer connections currently open",
		},
	)
	metricMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atonstream_server_messages_total",
			Help: "Number of messages received, by key",
		},
		[]string{"key"},
	)
	metricProtocolErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atonstream_server_protocol_errors_total",
			Help: "Number of connections aborted by a read or decode error",
		},
	)
)

func init() {
	prometheus.MustRegister(metricListening)
	prometheus.MustRegister(metricRunning)
	prometheus.MustRegister(metricBindFailures)
	prometheus.MustRegister(metricAcceptErrors)
	prometheus.MustRegister(metricConnections)
	prometheus.MustRegister(metricConnectionsActive)
	prometheus.MustRegister(metricMessages)
	prometheus.MustRegister(metricProtocolErrors)
}
