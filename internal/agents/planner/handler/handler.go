package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go-analyst/internal/llm"
	"go-analyst/pkg/data"
	"go-analyst/pkg/models"
)

// Vars are the template variables of prompts.PlanTemplate.
var Vars = []string{"Query", "Context", "Tools"}

// Handler asks the model for a plan. It implements the orchestrator's
// Planner.
type Handler struct {
	completer   llm.Completer
	tools       string
	maxAttempts int
	newID       func() string
}

// New builds a planner. tools is the rendered tool catalogue; maxAttempts
// bounds model calls per request.
func New(completer llm.Completer, tools string, maxAttempts int) *Handler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Handler{
		completer:   completer,
		tools:       tools,
		maxAttempts: maxAttempts,
		newID:       uuid.NewString,
	}
}

func (h *Handler) Plan(ctx context.Context, query string, qctx map[string]any) (models.Plan, error) {
	if qctx == nil {
		qctx = map[string]any{}
	}
	rawCtx, err := json.Marshal(qctx)
	if err != nil {
		return models.Plan{}, fmt.Errorf("%w: context: %v", models.ErrPlanUnparseable, err)
	}
	inputs := map[string]any{"Query": query, "Context": string(rawCtx), "Tools": h.tools}

	var lastErr error
	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		plan, err := h.plan(ctx, inputs)
		if err == nil {
			return plan, nil
		}
		if ctx.Err() != nil {
			return models.Plan{}, ctx.Err()
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("planner answer rejected")
		lastErr = err
	}
	if !errors.Is(lastErr, models.ErrPlanUnparseable) && !errors.Is(lastErr, models.ErrPlanEmpty) {
		lastErr = fmt.Errorf("%w: %w", models.ErrPlanUnparseable, lastErr)
	}
	return models.Plan{}, fmt.Errorf("no usable plan after %d attempts: %w", h.maxAttempts, lastErr)
}

func (h *Handler) plan(ctx context.Context, inputs map[string]any) (models.Plan, error) {
	answer, err := h.completer.Complete(ctx, inputs)
	if err != nil {
		return models.Plan{}, fmt.Errorf("call: %w", err)
	}
	steps, err := data.ParseSteps(answer)
	if err != nil {
		return models.Plan{}, err
	}
	plan := models.Plan{ID: h.newID(), Version: 1, Steps: steps}
	if err := plan.Validate(); err != nil {
		return models.Plan{}, fmt.Errorf("%w: %v", models.ErrPlanUnparseable, err)
	}
	return plan, nil
}
