// Package metrics holds the widget engine's Prometheus instrumentation.
// The dev server exposes these on /metrics; embedders may register the
// default gatherer wherever they already serve metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesMerged counts messages newly introduced into the timeline,
	// labelled by the delivery path they arrived through.
	MessagesMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwidget_messages_merged_total",
		Help: "Messages added to the timeline, by delivery source.",
	}, []string{"source"})

	// DuplicatesDropped counts messages discarded by id-based deduplication.
	DuplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatwidget_duplicates_dropped_total",
		Help: "Incoming messages dropped because their id was already present.",
	})

	// ReconnectAttempts counts realtime connection attempts.
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatwidget_reconnect_attempts_total",
		Help: "Realtime channel connection attempts, initial connects included.",
	})

	// PollCycles counts fallback poller fetches, labelled by outcome.
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwidget_poll_cycles_total",
		Help: "Fallback poll cycles, by outcome.",
	}, []string{"outcome"})

	// TransportState reports the current realtime connection state
	// (0 disconnected, 1 connecting, 2 connected).
	TransportState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatwidget_transport_state",
		Help: "Current realtime transport state (0=disconnected, 1=connecting, 2=connected).",
	})
)
