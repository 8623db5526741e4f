// Package metrics exports run, step and replan counters to Prometheus.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go-analyst/pkg/models"
)

var (
	stepAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_step_attempts_total",
			Help: "Step attempts by tool, invocation status and verification result",
		},
		[]string{"tool", "status", "passed"},
	)

	stepScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_step_score",
			Help:    "Verification score per step attempt",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"tool"},
	)

	replans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_replans_total",
			Help: "Replanning decisions by outcome",
		},
		[]string{"outcome"},
	)

	violations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analyst_replan_violations_total",
		Help: "Revised plans rejected for altering completed steps",
	})

	runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_runs_total",
			Help: "Finished requests by status and failure cause",
		},
		[]string{"status", "cause"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_run_duration_seconds",
			Help:    "Wall time of finished requests",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"status"},
	)

	// InFlight is the number of requests currently admitted by the API.
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "analyst_runs_in_flight",
		Help: "Requests currently running",
	})
)

// Sink records orchestrator events as metrics.
type Sink struct{}

func (Sink) Record(_ context.Context, rec models.TraceRecord) {
	stepAttempts.WithLabelValues(rec.Tool, string(rec.Status), strconv.FormatBool(rec.Passed)).Inc()
	stepScore.WithLabelValues(rec.Tool).Observe(rec.Score)
}

func (Sink) ObserveReplan(_ context.Context, _ string, rec models.ReplanRecord) {
	replans.WithLabelValues(replanOutcome(rec)).Inc()
}

func (Sink) ObserveViolation(context.Context, string, models.Violation) {
	violations.Inc()
}

func (Sink) ObserveResult(_ context.Context, res *models.Result) {
	var cause string
	if res.Failure != nil {
		cause = string(res.Failure.Cause)
	}
	runs.WithLabelValues(string(res.Status), cause).Inc()
	if !res.FinishedAt.IsZero() && !res.StartedAt.IsZero() {
		runDuration.WithLabelValues(string(res.Status)).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	}
}

func replanOutcome(rec models.ReplanRecord) string {
	switch {
	case rec.Decomposed && rec.Accepted:
		return "decomposed"
	case rec.Wasted:
		return "wasted"
	case rec.Accepted:
		return "accepted"
	default:
		return "rejected"
	}
}
