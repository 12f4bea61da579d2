// Package metrics defines the Prometheus collectors for the tracker service.
// Exposed on /metrics by the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Session lifecycle metrics
	SessionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gametime_sessions_started_total",
			Help: "Total play sessions started",
		},
	)

	SessionsEndedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametime_sessions_ended_total",
			Help: "Total play sessions ended and committed",
		},
		[]string{"reason"},
	)

	SessionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gametime_session_duration_seconds",
			Help:    "Committed play session durations in seconds",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		},
	)

	DuplicateEndsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gametime_duplicate_ends_total",
			Help: "End triggers that found no in-flight session",
		},
	)

	StaleSessionsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gametime_stale_sessions_reaped_total",
			Help: "Orphaned in-flight sessions discarded by the janitor",
		},
	)

	// Progression metrics
	LevelUpsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gametime_level_ups_total",
			Help: "Level-up events emitted",
		},
	)

	TitlesGrantedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametime_titles_granted_total",
			Help: "Milestone titles granted",
		},
		[]string{"rule"},
	)

	// Event bus metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametime_events_published_total",
			Help: "Domain events published to the event bus",
		},
		[]string{"type"},
	)

	EventHandlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametime_event_handler_errors_total",
			Help: "Event handler failures by event type",
		},
		[]string{"type"},
	)

	// Outbound side-effect metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametime_notifications_total",
			Help: "Notification delivery attempts",
		},
		[]string{"status"},
	)

	RoleGrantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametime_role_grants_total",
			Help: "Role grant attempts",
		},
		[]string{"status"},
	)

	// Ingest metrics
	IngestEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gametime_ingest_events_total",
			Help: "Inbound transport events received",
		},
		[]string{"kind", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsStartedTotal,
		SessionsEndedTotal,
		SessionDurationSeconds,
		DuplicateEndsTotal,
		StaleSessionsReapedTotal,
		LevelUpsTotal,
		TitlesGrantedTotal,
		EventsPublishedTotal,
		EventHandlerErrorsTotal,
		NotificationsTotal,
		RoleGrantsTotal,
		IngestEventsTotal,
	)
}
