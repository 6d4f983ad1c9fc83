// Package metrics exposes Prometheus collectors for lesson sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CampaignsStarted counts quiz campaigns by assessment type.
	CampaignsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonloop_campaigns_started_total",
			Help: "Total number of quiz campaigns started",
		},
		[]string{"type"},
	)

	// CampaignsRejected counts start requests refused because a campaign was active.
	CampaignsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonloop_campaigns_rejected_total",
			Help: "Total number of campaign starts rejected while another was active",
		},
		[]string{"type"},
	)

	// CampaignsFinished counts campaigns by type and outcome (completed/cancelled).
	CampaignsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonloop_campaigns_finished_total",
			Help: "Total number of quiz campaigns finished",
		},
		[]string{"type", "outcome"},
	)

	// TriggersFired counts video triggers by kind (bookmark/in_lesson).
	TriggersFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonloop_triggers_fired_total",
			Help: "Total number of video triggers fired",
		},
		[]string{"kind"},
	)

	// TriggerRecoveries counts playback resumed after a trigger failed to start.
	TriggerRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lessonloop_trigger_recoveries_total",
			Help: "Total number of triggers that failed to start and resumed playback",
		},
	)

	// MessagesPersisted counts message writes by status (persisted/failed).
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonloop_messages_total",
			Help: "Total number of chat message writes",
		},
		[]string{"status"},
	)

	// Evaluations counts free-text evaluations by outcome (correct/incorrect/failed).
	Evaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonloop_evaluations_total",
			Help: "Total number of remote free-text evaluations",
		},
		[]string{"outcome"},
	)

	// EvaluationDuration observes remote evaluation latency.
	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lessonloop_evaluation_duration_seconds",
			Help:    "Time spent waiting for remote free-text evaluation",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AgentReconnects counts lost agent conversation streams.
	AgentReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lessonloop_agent_reconnects_total",
			Help: "Total number of agent conversation stream losses",
		},
	)

	// ActiveSessions is the number of live lesson sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lessonloop_active_sessions_current",
			Help: "Current number of active lesson sessions",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
