package orchestrator

import (
	"context"

	"github.com/rs/zerolog/log"

	"go-analyst/pkg/logger"
	"go-analyst/pkg/models"
)

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec models.TraceRecord)

func (f SinkFunc) Record(ctx context.Context, rec models.TraceRecord) {
	f(ctx, rec)
}

// MultiSink fans records and observations out to every member.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, rec models.TraceRecord) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, rec)
		}
	}
}

func (m MultiSink) ObserveReplan(ctx context.Context, requestID string, rec models.ReplanRecord) {
	for _, s := range m {
		if o, ok := s.(Observer); ok {
			o.ObserveReplan(ctx, requestID, rec)
		}
	}
}

func (m MultiSink) ObserveViolation(ctx context.Context, requestID string, v models.Violation) {
	for _, s := range m {
		if o, ok := s.(Observer); ok {
			o.ObserveViolation(ctx, requestID, v)
		}
	}
}

func (m MultiSink) ObserveResult(ctx context.Context, res *models.Result) {
	for _, s := range m {
		if o, ok := s.(Observer); ok {
			o.ObserveResult(ctx, res)
		}
	}
}

func (m MultiSink) ObservePlan(ctx context.Context, requestID string, plan models.Plan) {
	for _, s := range m {
		if o, ok := s.(PlanObserver); ok {
			o.ObservePlan(ctx, requestID, plan.Clone())
		}
	}
}

// LogSink writes every trace record to the global zerolog logger.
type LogSink struct{}

func (LogSink) Record(_ context.Context, rec models.TraceRecord) {
	ev := log.Info()
	if rec.Status != models.StepSuccess || !rec.Passed {
		ev = log.Warn()
	}
	ev.Str(logger.RequestIDField, rec.RequestID).
		Str(logger.PlanIDField, rec.PlanID).
		Int(logger.PlanVersionField, rec.PlanVersion).
		Int(logger.StepIDField, rec.StepID).
		Int(logger.AttemptField, rec.Attempt).
		Str(logger.ToolField, rec.Tool).
		Float64(logger.ScoreField, rec.Score).
		Strs("issues", rec.Issues).
		Msgf("step attempt %s", rec.Status)
}
