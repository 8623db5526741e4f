package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"go-analyst/internal/llm"
	"go-analyst/pkg/data"
	"go-analyst/pkg/models"
)

// Vars are the template variables of prompts.VerifyTemplate.
var Vars = []string{"Tool", "Params", "ExpectedOutput", "Output", "Prior"}

const truncatedMarker = "... [truncated]"

// Handler asks the model to score a step output.
type Handler struct {
	completer llm.Completer
	maxOutput int
	threshold float64
}

func New(completer llm.Completer, maxOutput int, threshold float64) *Handler {
	return &Handler{completer: completer, maxOutput: maxOutput, threshold: threshold}
}

type priorStep struct {
	StepID int     `json:"step_id"`
	Tool   string  `json:"tool"`
	Score  float64 `json:"score"`
	Passed bool    `json:"passed"`
}

func (h *Handler) Verify(ctx context.Context, step models.Step, result models.StepResult, prior []models.TraceEntry) (models.VerificationOutcome, error) {
	params, err := json.Marshal(step.Params)
	if err != nil {
		return models.VerificationOutcome{}, fmt.Errorf("marshal params: %w", err)
	}
	summary := make([]priorStep, 0, len(prior))
	for _, e := range prior {
		summary = append(summary, priorStep{StepID: e.Step.ID, Tool: e.Step.Tool, Score: e.Verification.Score, Passed: e.Verification.Passed})
	}
	rawPrior, err := json.Marshal(summary)
	if err != nil {
		return models.VerificationOutcome{}, fmt.Errorf("marshal prior: %w", err)
	}

	answer, err := h.completer.Complete(ctx, map[string]any{
		"Tool":           step.Tool,
		"Params":         string(params),
		"ExpectedOutput": step.ExpectedOutput,
		"Output":         h.truncate(string(result.Output)),
		"Prior":          string(rawPrior),
	})
	if err != nil {
		return models.VerificationOutcome{}, fmt.Errorf("call: %w", err)
	}

	score, issues, err := data.ParseScore(answer)
	if err != nil {
		return models.VerificationOutcome{}, err
	}
	if !models.ValidScore(score) {
		return models.VerificationOutcome{}, fmt.Errorf("%w: score %v outside [0, 1]", models.ErrVerdictUnparseable, score)
	}
	return models.NewOutcome(step.ID, score, h.threshold, issues), nil
}

func (h *Handler) truncate(s string) string {
	if h.maxOutput <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= h.maxOutput {
		return s
	}
	return string(r[:h.maxOutput]) + truncatedMarker
}
