package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-analyst/pkg/models"
)

func TestParseSteps(t *testing.T) {
	ans := "Sure!\n```json\n" + `{"steps":[
		{"id":2,"tool":"analyze","params":{"rows":"$(.step_1.rows)"},"expected_output":"stats"},
		{"id":1,"tool":"load_local","expected_output":"rows","step_type":"action"}
	]}` + "\n```"

	steps, err := ParseSteps(ans)

	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].ID)
	assert.Equal(t, models.StepAction, steps[1].Type)
	assert.NotNil(t, steps[0].Params)
	assert.Equal(t, "$(.step_1.rows)", steps[1].Params["rows"])
}

func TestParseSteps_Errors(t *testing.T) {
	_, err := ParseSteps("I cannot help with that")
	assert.ErrorIs(t, err, models.ErrPlanUnparseable)

	_, err = ParseSteps(`{"steps": "load it"}`)
	assert.ErrorIs(t, err, models.ErrPlanUnparseable)

	_, err = ParseSteps(`{"plan": []}`)
	assert.ErrorIs(t, err, models.ErrPlanEmpty)

	_, err = ParseSteps(`{"unavailable": true, "reason": "no other source"}`)
	assert.ErrorIs(t, err, models.ErrReplanUnavailable)
	assert.Contains(t, err.Error(), "no other source")

	steps, err := ParseSteps(`{"steps": []}`)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestParseScore(t *testing.T) {
	score, issues, err := ParseScore(`verdict: {"score": 0.85, "issues": ["minor gap"]}`)
	require.NoError(t, err)
	assert.Equal(t, 0.85, score)
	assert.Equal(t, []string{"minor gap"}, issues)

	score, issues, err = ParseScore(`{"score": 1}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
	assert.Empty(t, issues)

	for _, bad := range []string{`{"issues": []}`, `{"score": "high"}`, `no verdict`} {
		_, _, err := ParseScore(bad)
		assert.ErrorIs(t, err, models.ErrVerdictUnparseable, bad)
	}
}
