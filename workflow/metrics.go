package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	outcomeSuccess = "success"
	outcomeFailed  = "failed"
	outcomeError   = "error"
)

var (
	// transitionsTotal counts transition attempts by outcome.
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entity_workflow_transitions_total",
		Help: "Total number of transition attempts by workflow, transition and outcome (success, failed or error)",
	}, []string{"workflow", "transition", "outcome"})

	// transitionDuration tracks the duration of the transactional part of a transition.
	transitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "entity_workflow_transition_duration_seconds",
		Help:    "Duration of transition execution including persistence",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"workflow", "transition"})

	// actionFailuresTotal counts ActionFailedErrors by phase (actions or post_actions).
	actionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entity_workflow_action_failures_total",
		Help: "Total number of reported action failures by workflow, transition and phase",
	}, []string{"workflow", "transition", "phase"})
)
