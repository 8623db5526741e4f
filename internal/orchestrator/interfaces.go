package orchestrator

import (
	"context"

	"go-analyst/pkg/models"
)

// Planner turns a query into a structured plan. Errors wrap
// models.ErrPlanUnparseable or models.ErrPlanEmpty once the planner's own
// retry budget is spent.
type Planner interface {
	Plan(ctx context.Context, query string, qctx map[string]any) (models.Plan, error)
}

// Invoker runs one step. It never panics and never returns an error; every
// failure is captured in the StepResult.
type Invoker interface {
	Invoke(ctx context.Context, step models.Step) models.StepResult
}

// Verifier scores a successful attempt. It is called at most once per attempt.
type Verifier interface {
	Verify(ctx context.Context, step models.Step, result models.StepResult, prior []models.TraceEntry) (models.VerificationOutcome, error)
}

// Replanner revises a plan after a failed attempt. It returns an error
// wrapping models.ErrReplanUnavailable when no alternative exists.
type Replanner interface {
	Replan(ctx context.Context, plan models.Plan, failing models.Step, diag models.Diagnostic) (models.Plan, error)
}

// Decomposer expands a needs_decomposition step into action steps.
type Decomposer interface {
	Decompose(ctx context.Context, plan models.Plan, step models.Step) (models.Plan, error)
}

// Sink receives one immutable record per (step, attempt).
type Sink interface {
	Record(ctx context.Context, rec models.TraceRecord)
}

// Observer is implemented by sinks that also want replan and run outcomes.
type Observer interface {
	ObserveReplan(ctx context.Context, requestID string, rec models.ReplanRecord)
	ObserveViolation(ctx context.Context, requestID string, v models.Violation)
	ObserveResult(ctx context.Context, res *models.Result)
}

// PlanObserver is implemented by sinks that track the plan a run is on. It
// receives the initial plan and every accepted revision.
type PlanObserver interface {
	ObservePlan(ctx context.Context, requestID string, plan models.Plan)
}
