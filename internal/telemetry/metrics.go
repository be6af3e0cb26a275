// Package telemetry exposes the Prometheus metrics the streaming
// coordination core publishes, following the teacher's promauto idiom
// (internal/control/metrics.go).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsTotal counts connection-pipeline outcomes: "streaming" when
	// a handshake hands off to the supervisor, and "soft", "hard" or "fatal"
	// (errs.Class names) when an iteration ends with an error.
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vrhostd",
			Name:      "connections_total",
			Help:      "Total connection pipeline iterations by outcome",
		},
		[]string{"outcome"},
	)

	// HandshakeDurationSeconds observes how long the handshake step takes.
	HandshakeDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vrhostd",
			Name:      "handshake_duration_seconds",
			Help:      "Duration of the client handshake negotiation",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// KeepaliveFailuresTotal counts keepalive send failures (the
	// disconnect signal per spec.md §4.6).
	KeepaliveFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vrhostd",
			Name:      "keepalive_failures_total",
			Help:      "Total keepalive send failures, each one a client disconnect",
		},
	)

	// RefreshRateMismatchesTotal counts handshakes where the preferred
	// refresh rate was not exactly offered by the client.
	RefreshRateMismatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vrhostd",
			Name:      "refresh_rate_mismatches_total",
			Help:      "Total handshakes where the preferred refresh rate was not exactly offered",
		},
	)

	// EventBusDepth reports the current depth of the driver event bus.
	EventBusDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vrhostd",
			Name:      "event_bus_depth",
			Help:      "Current number of buffered events on the driver event bus",
		},
	)

	// StreamingActive is 1 when a Streaming Supervisor is running, 0
	// otherwise.
	StreamingActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vrhostd",
			Name:      "streaming_active",
			Help:      "Whether a streaming supervisor is currently running (1=active, 0=idle)",
		},
	)
)
