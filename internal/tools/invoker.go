package tools

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"go-analyst/pkg/logger"
	"go-analyst/pkg/models"
)

// Invoker runs plan steps against a Registry. It implements the
// orchestrator's Invoker.
type Invoker struct {
	registry *Registry
	timeout  time.Duration
}

// NewInvoker builds an invoker. A zero timeout leaves only the caller's
// deadline in force.
func NewInvoker(registry *Registry, timeout time.Duration) *Invoker {
	return &Invoker{registry: registry, timeout: timeout}
}

type outcome struct {
	value any
	err   error
}

func (i *Invoker) Invoke(ctx context.Context, step models.Step) models.StepResult {
	start := time.Now()
	res := i.invoke(ctx, step)
	res.StepID = step.ID
	res.Duration = time.Since(start)
	if res.Error != nil {
		log.Debug().Int(logger.StepIDField, step.ID).Str(logger.ToolField, step.Tool).Err(res.Error).Msg("tool failed")
	}
	return res
}

func (i *Invoker) invoke(ctx context.Context, step models.Step) models.StepResult {
	tool, ok := i.registry.Get(step.Tool)
	if !ok {
		return failed(step.Tool, models.NewToolError(models.ToolNotFound, "no tool named %q", step.Tool))
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	params := step.Clone().Params
	if params == nil {
		params = map[string]any{}
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error().Str(logger.ToolField, step.Tool).Bytes("stack", debug.Stack()).Msgf("tool panic: %v", p)
				done <- outcome{err: models.NewToolError(models.ToolInternalError, "tool panicked: %v", p)}
			}
		}()
		v, err := tool.Execute(ctx, params)
		done <- outcome{value: v, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		return failed(step.Tool, contextError(ctx.Err()))
	}

	if out.err != nil {
		return failed(step.Tool, classify(out.err))
	}

	raw, err := json.Marshal(out.value)
	if err != nil {
		return failed(step.Tool, models.NewToolError(models.ToolInternalError, "output is not serialisable: %v", err))
	}
	return models.StepResult{Status: models.StepSuccess, Output: raw}
}

func failed(tool string, te *models.ToolError) models.StepResult {
	if te.Tool == "" {
		te.Tool = tool
	}
	return models.StepResult{Status: models.StepFailure, Error: te}
}

func contextError(err error) *models.ToolError {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewToolError(models.ExecutionTimeout, "deadline exceeded: %v", err)
	}
	return models.NewToolError(models.ToolInternalError, "invocation cancelled: %v", err)
}

func classify(err error) *models.ToolError {
	var te *models.ToolError
	if errors.As(err, &te) {
		c := *te
		return &c
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contextError(err)
	}
	return &models.ToolError{Kind: models.ToolInternalError, Message: err.Error(), Err: err}
}

// invalid is a short-hand for the InvalidParams errors tools return.
func invalid(format string, args ...any) error {
	return models.NewToolError(models.InvalidParams, format, args...)
}

func unavailable(format string, args ...any) error {
	return models.NewToolError(models.DependencyUnavailable, format, args...)
}

func internal(format string, args ...any) error {
	return models.NewToolError(models.ToolInternalError, format, args...)
}
