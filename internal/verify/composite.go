package verify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"go-analyst/pkg/logger"
	"go-analyst/pkg/models"
)

// Scorer is implemented by every verifier in this package and by the model
// verifier.
type Scorer interface {
	Verify(ctx context.Context, step models.Step, result models.StepResult, prior []models.TraceEntry) (models.VerificationOutcome, error)
}

// Composite blends the rule score with the model score:
// score = ruleWeight*rules + (1-ruleWeight)*model.
// Without a model it returns the rule verdict.
type Composite struct {
	rules      Scorer
	model      Scorer
	ruleWeight float64
	threshold  float64
}

func NewComposite(rules, model Scorer, ruleWeight, threshold float64) *Composite {
	return &Composite{rules: rules, model: model, ruleWeight: ruleWeight, threshold: threshold}
}

func (c *Composite) Verify(ctx context.Context, step models.Step, result models.StepResult, prior []models.TraceEntry) (models.VerificationOutcome, error) {
	ruled, err := c.rules.Verify(ctx, step, result, prior)
	if err != nil {
		return models.VerificationOutcome{}, fmt.Errorf("rules: %w", err)
	}
	if !models.ValidScore(ruled.Score) {
		return models.VerificationOutcome{}, fmt.Errorf("rules score %v out of range", ruled.Score)
	}
	if c.model == nil {
		return models.NewOutcome(step.ID, ruled.Score, c.threshold, ruled.Issues), nil
	}

	judged, err := c.model.Verify(ctx, step, result, prior)
	if err != nil {
		return models.VerificationOutcome{}, fmt.Errorf("model: %w", err)
	}
	if !models.ValidScore(judged.Score) {
		return models.VerificationOutcome{}, fmt.Errorf("model score %v out of range", judged.Score)
	}

	score := c.ruleWeight*ruled.Score + (1-c.ruleWeight)*judged.Score
	issues := append(append([]string{}, ruled.Issues...), judged.Issues...)
	log.Debug().
		Int(logger.StepIDField, step.ID).
		Float64("rules", ruled.Score).
		Float64("model", judged.Score).
		Float64(logger.ScoreField, score).
		Msg("combined verdict")
	return models.NewOutcome(step.ID, score, c.threshold, issues), nil
}
