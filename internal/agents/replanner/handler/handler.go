package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"go-analyst/internal/llm"
	"go-analyst/pkg/data"
	"go-analyst/pkg/models"
)

var (
	// ReplanVars are the template variables of prompts.ReplanTemplate.
	ReplanVars = []string{"Plan", "StepID", "Diagnostic", "Completed", "Tools"}
	// DecomposeVars are the template variables of prompts.DecomposeTemplate.
	DecomposeVars = []string{"Plan", "StepID", "Step", "Tools"}
)

// Handler revises plans with the model. It implements the orchestrator's
// Replanner and Decomposer.
type Handler struct {
	replan    llm.Completer
	decompose llm.Completer
	tools     string
}

func New(replan, decompose llm.Completer, tools string) *Handler {
	return &Handler{replan: replan, decompose: decompose, tools: tools}
}

func (h *Handler) Replan(ctx context.Context, plan models.Plan, failing models.Step, diag models.Diagnostic) (models.Plan, error) {
	idx := position(plan, failing.ID)
	if idx < 0 {
		return models.Plan{}, fmt.Errorf("%w: step %d is not in plan %s", models.ErrReplanUnavailable, failing.ID, plan.ID)
	}
	completed := plan.Steps[:idx]

	rawPlan, err := json.Marshal(plan)
	if err != nil {
		return models.Plan{}, fmt.Errorf("marshal plan: %w", err)
	}
	rawDiag, err := json.Marshal(diag)
	if err != nil {
		return models.Plan{}, fmt.Errorf("marshal diagnostic: %w", err)
	}
	ids, _ := json.Marshal(models.Plan{Steps: completed}.StepIDs())

	answer, err := h.replan.Complete(ctx, map[string]any{
		"Plan":       string(rawPlan),
		"StepID":     failing.ID,
		"Diagnostic": string(rawDiag),
		"Completed":  string(ids),
		"Tools":      h.tools,
	})
	if err != nil {
		return models.Plan{}, fmt.Errorf("call: %w", err)
	}
	steps, err := data.ParseSteps(answer)
	if err != nil {
		return models.Plan{}, err
	}
	if len(steps) == 0 {
		return models.Plan{}, fmt.Errorf("%w: revised plan has no steps", models.ErrPlanEmpty)
	}

	return models.Plan{ID: plan.ID, Version: plan.Version + 1, Steps: withCompleted(completed, steps)}, nil
}

func (h *Handler) Decompose(ctx context.Context, plan models.Plan, step models.Step) (models.Plan, error) {
	idx := position(plan, step.ID)
	if idx < 0 {
		return models.Plan{}, fmt.Errorf("%w: step %d is not in plan %s", models.ErrReplanUnavailable, step.ID, plan.ID)
	}
	rawPlan, err := json.Marshal(plan)
	if err != nil {
		return models.Plan{}, fmt.Errorf("marshal plan: %w", err)
	}
	rawStep, err := json.Marshal(step)
	if err != nil {
		return models.Plan{}, fmt.Errorf("marshal step: %w", err)
	}

	answer, err := h.decompose.Complete(ctx, map[string]any{
		"Plan":   string(rawPlan),
		"StepID": step.ID,
		"Step":   string(rawStep),
		"Tools":  h.tools,
	})
	if err != nil {
		return models.Plan{}, fmt.Errorf("call: %w", err)
	}
	steps, err := data.ParseSteps(answer)
	if err != nil {
		return models.Plan{}, err
	}
	if len(steps) == 0 {
		return models.Plan{}, fmt.Errorf("%w: decomposition has no steps", models.ErrPlanEmpty)
	}

	if !mentionsOthers(plan, step.ID, steps) {
		steps = splice(plan, idx, steps)
	}
	return models.Plan{ID: plan.ID, Version: plan.Version + 1, Steps: steps}, nil
}

func position(plan models.Plan, stepID int) int {
	for i, s := range plan.Steps {
		if s.ID == stepID {
			return i
		}
	}
	return -1
}

// withCompleted restores the completed prefix when the model answered with
// only the replacement steps. A prefix the model did return is left as is
// so the orchestrator can reject an altered one.
func withCompleted(completed, steps []models.Step) []models.Step {
	if len(completed) == 0 {
		return steps
	}
	given := make(map[int]struct{}, len(steps))
	for _, s := range steps {
		given[s.ID] = struct{}{}
	}
	for _, c := range completed {
		if _, ok := given[c.ID]; ok {
			return steps
		}
	}
	out := make([]models.Step, 0, len(completed)+len(steps))
	for _, c := range completed {
		out = append(out, c.Clone())
	}
	return append(out, steps...)
}

// mentionsOthers reports whether steps is a whole plan rather than just
// the replacement for stepID.
func mentionsOthers(plan models.Plan, stepID int, steps []models.Step) bool {
	ids := make(map[int]struct{}, len(steps))
	for _, s := range steps {
		ids[s.ID] = struct{}{}
	}
	for _, s := range plan.Steps {
		if s.ID == stepID {
			continue
		}
		if _, ok := ids[s.ID]; ok {
			return true
		}
	}
	return false
}

func splice(plan models.Plan, idx int, replacement []models.Step) []models.Step {
	out := make([]models.Step, 0, len(plan.Steps)-1+len(replacement))
	for _, s := range plan.Steps[:idx] {
		out = append(out, s.Clone())
	}
	out = append(out, replacement...)
	for _, s := range plan.Steps[idx+1:] {
		out = append(out, s.Clone())
	}
	return out
}
