// Package metrics defines Prometheus metrics for the control plane.
//
// All metrics live on a private registry so tests never collide with the
// global default registry. Naming follows Prometheus conventions:
//   - windlass_ prefix for all custom metrics
//   - _total suffix for counters
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// EventsReceivedTotal counts accepted events by ingest path.
	EventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windlass_events_received_total",
			Help: "Total events accepted into the pipeline by ingest path.",
		},
		[]string{"path"},
	)

	// EventsRejectedTotal counts events rejected at validation.
	EventsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "windlass_events_rejected_total",
			Help: "Total events rejected as malformed at ingest.",
		},
	)

	// FiringsTotal counts trigger firings by posture.
	FiringsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windlass_firings_total",
			Help: "Total automation trigger firings by posture.",
		},
		[]string{"posture"},
	)

	// ActionsTotal counts executed actions by type and final status.
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windlass_actions_total",
			Help: "Total executed automation actions by type and status.",
		},
		[]string{"action", "status"},
	)

	// ActionsDroppedTotal counts actions dropped on a full executor queue.
	ActionsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "windlass_actions_dropped_total",
			Help: "Total triggered actions dropped because the executor queue was full.",
		},
	)

	// WindowsLive is the number of open trigger windows.
	WindowsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "windlass_trigger_windows_live",
			Help: "Number of currently open trigger windows.",
		},
	)

	// SubscribersConnected is the number of live event stream subscribers.
	SubscribersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "windlass_event_subscribers_connected",
			Help: "Number of currently connected WebSocket event subscribers.",
		},
	)
)

func init() {
	registry.MustRegister(
		EventsReceivedTotal,
		EventsRejectedTotal,
		FiringsTotal,
		ActionsTotal,
		ActionsDroppedTotal,
		WindowsLive,
		SubscribersConnected,
	)
}

// Handler serves the registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry so tests can gather from it.
func Registry() *prometheus.Registry { return registry }
