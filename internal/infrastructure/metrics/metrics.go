// Package metrics holds the process-wide Prometheus collectors.
//
// Collectors register with the default registry on import; the API server
// exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sensecraft"

// Result label values for TransportConnectAttempts.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// SessionsActive counts running sessions by entry kind.
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of device sessions currently set up, by kind.",
	}, []string{"kind"})

	// TransportConnectAttempts counts connect attempts by transport and result.
	TransportConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_connect_attempts_total",
		Help:      "Device transport connect attempts, by transport and result.",
	}, []string{"transport", "result"})

	// MessagesReceived counts inbound device messages by transport.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Inbound device messages, by transport.",
	}, []string{"transport"})

	// EventsPublished counts events fired on the bus.
	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Events fired on the host event bus.",
	})

	// IngressRequests counts pushes on the shared ingress server by path and envelope code.
	IngressRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingress_requests_total",
		Help:      "Device HTTP pushes, by path and response envelope code.",
	}, []string{"path", "code"})

	// ControlCommands counts outbound control commands by session kind and result.
	ControlCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_commands_total",
		Help:      "Outbound device control commands, by kind and result.",
	}, []string{"kind", "result"})

	// ImagesRemoved counts watcher images deleted by retention.
	ImagesRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watcher_images_removed_total",
		Help:      "Watcher alert images deleted by retention, by reason.",
	}, []string{"reason"})

	// TelemetryPoints counts events written to the time-series sink.
	TelemetryPoints = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "telemetry_points_total",
		Help:      "Event values written to InfluxDB.",
	})
)

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
