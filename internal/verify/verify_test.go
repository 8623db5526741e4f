package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-analyst/pkg/models"
)

func output(raw string) models.StepResult {
	return models.StepResult{Status: models.StepSuccess, Output: []byte(raw)}
}

func TestRules_DefaultPolicy(t *testing.T) {
	r, err := NewRules(context.Background(), "", 0.7)
	require.NoError(t, err)

	tests := []struct {
		name   string
		tool   string
		output string
		score  float64
		issue  string
	}{
		{name: "good table", tool: "load_local", output: `{"rows":[{"a":1}]}`, score: 1},
		{name: "good text", tool: "load_local", output: `{"text":"hello"}`, score: 1},
		{name: "empty file", tool: "load_local", output: `{"rows":[]}`, score: 0.7, issue: "no data loaded from file"},
		{name: "null output", tool: "load_local", output: `null`, score: 0.2, issue: "output is null"},
		{name: "empty page", tool: "fetch_web", output: `{"text":"","selections":{"x":[]}}`, score: 0.7},
		{name: "page with selections", tool: "fetch_web", output: `{"text":"","selections":{"x":["v"]}}`, score: 1},
		{name: "empty query", tool: "sql_query", output: `{"columns":["a"],"rows":[]}`, score: 0.8},
		{name: "empty analysis", tool: "analyze", output: `{"operation":"groupby","result":[]}`, score: 0.8},
		{name: "analysis", tool: "analyze", output: `{"operation":"summary","result":{"x":{}}}`, score: 1},
		{name: "unknown tool", tool: "other", output: `{}`, score: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Verify(context.Background(), models.Step{ID: 3, Tool: tt.tool}, output(tt.output), nil)

			require.NoError(t, err)
			assert.Equal(t, 3, out.StepID)
			assert.InDelta(t, tt.score, out.Score, 1e-9)
			assert.True(t, out.Consistent(0.7))
			if tt.issue != "" {
				assert.Contains(t, out.Issues, tt.issue)
			}
		})
	}
}

func TestRules_CustomPolicy(t *testing.T) {
	policy := `
package step_rules

verdict := {"score": 0.25, "issues": ["always unhappy"]}
`
	r, err := NewRules(context.Background(), policy, 0.7)
	require.NoError(t, err)

	out, err := r.Verify(context.Background(), models.Step{ID: 1, Tool: "x"}, output(`1`), nil)

	require.NoError(t, err)
	assert.Equal(t, 0.25, out.Score)
	assert.False(t, out.Passed)
	assert.Equal(t, []string{"always unhappy"}, out.Issues)
}

func TestRules_BadPolicy(t *testing.T) {
	_, err := NewRules(context.Background(), "package step_rules\nverdict := {", 0.7)
	assert.Error(t, err)

	_, err = NewRulesFromFile(context.Background(), "/does/not/exist.rego", 0.7)
	assert.Error(t, err)
}

type fixedScorer struct {
	score  float64
	issues []string
	err    error
}

func (f fixedScorer) Verify(_ context.Context, step models.Step, _ models.StepResult, _ []models.TraceEntry) (models.VerificationOutcome, error) {
	return models.VerificationOutcome{StepID: step.ID, Score: f.score, Issues: f.issues}, f.err
}

func TestComposite(t *testing.T) {
	step := models.Step{ID: 2, Tool: "analyze"}

	c := NewComposite(fixedScorer{score: 1}, fixedScorer{score: 0.5, issues: []string{"shallow"}}, 0.3, 0.7)
	out, err := c.Verify(context.Background(), step, output(`{}`), nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, out.Score, 1e-9)
	assert.False(t, out.Passed)
	assert.Equal(t, []string{"shallow"}, out.Issues)

	rulesOnly := NewComposite(fixedScorer{score: 0.8, issues: []string{"minor"}}, nil, 0.3, 0.7)
	out, err = rulesOnly.Verify(context.Background(), step, output(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.8, out.Score)
	assert.True(t, out.Passed)

	broken := NewComposite(fixedScorer{score: 1}, fixedScorer{err: errors.New("no verdict")}, 0.3, 0.7)
	_, err = broken.Verify(context.Background(), step, output(`{}`), nil)
	assert.Error(t, err)

	outOfRange := NewComposite(fixedScorer{score: 1}, fixedScorer{score: 7}, 0.3, 0.7)
	_, err = outOfRange.Verify(context.Background(), step, output(`{}`), nil)
	assert.Error(t, err)
}

func TestComposite_RejectsOutOfRangeRuleScore(t *testing.T) {
	step := models.Step{ID: 1, Tool: "analyze"}

	withModel := NewComposite(fixedScorer{score: 1.5}, fixedScorer{score: 0.2}, 0.3, 0.7)
	_, err := withModel.Verify(context.Background(), step, output(`{}`), nil)
	assert.ErrorContains(t, err, "rules score 1.5 out of range")

	policy := `
package step_rules

verdict := {"score": 1.5, "issues": []}
`
	r, err := NewRules(context.Background(), policy, 0.7)
	require.NoError(t, err)
	_, err = NewComposite(r, nil, 0.3, 0.7).Verify(context.Background(), step, output(`{}`), nil)
	assert.Error(t, err)
}
