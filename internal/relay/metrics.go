package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOpenClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "browserwright",
			Subsystem: "relay",
			Name:      "clients_open",
			Help:      "Number of currently open CDP client connections",
		},
	)

	metricDroppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "browserwright",
			Subsystem: "relay",
			Name:      "events_dropped_total",
			Help:      "Events dropped due to client backpressure",
		},
	)

	metricUnownedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "browserwright",
			Subsystem: "relay",
			Name:      "unowned_session_events_total",
			Help:      "Events received for a sessionId no client owns",
		},
	)

	metricTimedOutCommands = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "browserwright",
			Subsystem: "relay",
			Name:      "commands_timed_out_total",
			Help:      "Forwarded commands that expired before the extension replied",
		},
	)

	metricExtensionReplacements = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "browserwright",
			Subsystem: "relay",
			Name:      "extension_replacements_total",
			Help:      "Times a new extension connection displaced an open one",
		},
	)

	metricUnknownResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "browserwright",
			Subsystem: "relay",
			Name:      "unknown_responses_total",
			Help:      "Extension responses whose relay id matched no pending command",
		},
	)
)
