package handler

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-analyst/internal/llm"
	"go-analyst/pkg/models"
)

func TestVerify(t *testing.T) {
	var seen map[string]any
	c := llm.CompleterFunc(func(_ context.Context, inputs map[string]any) (string, error) {
		seen = inputs
		return `{"score": 0.6, "issues": ["only one region"]}`, nil
	})
	h := New(c, 10, 0.7)
	prior := []models.TraceEntry{{Step: models.Step{ID: 1, Tool: "load_local"}, Verification: models.VerificationOutcome{Score: 0.9, Passed: true}}}

	out, err := h.Verify(context.Background(),
		models.Step{ID: 2, Tool: "analyze", Params: map[string]any{"operation": "summary"}, ExpectedOutput: "stats"},
		models.StepResult{Status: models.StepSuccess, Output: []byte(`{"result":"` + strings.Repeat("x", 50) + `"}`)},
		prior)

	require.NoError(t, err)
	assert.Equal(t, 2, out.StepID)
	assert.Equal(t, 0.6, out.Score)
	assert.False(t, out.Passed)
	assert.Equal(t, []string{"only one region"}, out.Issues)
	assert.Equal(t, `{"result":`+truncatedMarker, seen["Output"])
	assert.JSONEq(t, `[{"step_id":1,"tool":"load_local","score":0.9,"passed":true}]`, seen["Prior"].(string))
	assert.Equal(t, "stats", seen["ExpectedOutput"])
}

func TestVerify_RejectsBadVerdicts(t *testing.T) {
	for _, ans := range []string{`{"score": 1.4}`, `{"issues": ["?"]}`, `looks fine to me`} {
		c := llm.CompleterFunc(func(context.Context, map[string]any) (string, error) { return ans, nil })

		_, err := New(c, 0, 0.7).Verify(context.Background(), models.Step{ID: 1}, models.StepResult{Status: models.StepSuccess}, nil)

		assert.ErrorIs(t, err, models.ErrVerdictUnparseable, ans)
	}
}
