// Package metrics declares the broker's Prometheus instrumentation:
// package-level collectors registered in init, served at /metrics via
// promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stomp_connections_total",
		Help: "Total number of accepted connections.",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stomp_connections_active",
		Help: "Current number of live connections.",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stomp_connections_rejected_total",
		Help: "Connections rejected by the resource guard, by reason.",
	}, []string{"reason"})

	FramesParsedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stomp_frames_parsed_total",
		Help: "Frames successfully parsed from client sockets, by command.",
	}, []string{"command"})

	ParseErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stomp_parse_errors_total",
		Help: "Frame parse errors that terminated a connection.",
	})

	FramesSerializedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stomp_frames_serialized_total",
		Help: "Frames queued for serialization to client connections, by command.",
	}, []string{"command"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stomp_queue_depth",
		Help: "Pending (undelivered) frames held in a queue's storage.",
	}, []string{"destination"})

	RouterDispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stomp_router_dispatch_total",
		Help: "Frames handed from a Router to a Subscription.",
	}, []string{"destination"})

	HeartbeatTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stomp_heartbeat_timeouts_total",
		Help: "Connections closed for missing their negotiated heartbeat deadline.",
	})

	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stomp_cpu_usage_percent",
		Help: "Most recent host CPU utilization sample used by the resource guard.",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		FramesParsedTotal,
		ParseErrorsTotal,
		FramesSerializedTotal,
		QueueDepth,
		RouterDispatchTotal,
		HeartbeatTimeoutsTotal,
		CPUUsagePercent,
	)
}

// Handler returns the promhttp handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
