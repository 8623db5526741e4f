package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeSteps() Plan {
	return Plan{ID: "p1", Version: 2, Steps: []Step{
		{ID: 1, Tool: "load_local"},
		{ID: 2, Tool: "sql_query"},
		{ID: 3, Tool: "visualize"},
	}}
}

func TestNewPlanStatus_Running(t *testing.T) {
	records := []TraceRecord{
		{StepID: 1, Attempt: 1, Status: StepSuccess, Score: 0.9, Passed: true},
		{StepID: 2, Attempt: 1, Status: StepFailure},
		{StepID: 2, Attempt: 2, Status: StepSuccess, Score: 0.4},
		{StepID: 9, Attempt: 1, Status: StepSuccess, Passed: true},
	}

	ps := NewPlanStatus("req", Thinking, threeSteps(), records)

	assert.Equal(t, "p1", ps.PlanID)
	assert.Equal(t, 2, ps.PlanVersion)
	assert.Equal(t, 3, ps.TotalSteps)
	assert.Equal(t, 1, ps.CompletedSteps)
	assert.Equal(t, 0, ps.FailedSteps)
	require.NotNil(t, ps.CurrentStep)
	assert.Equal(t, 2, *ps.CurrentStep)

	require.Len(t, ps.Steps, 3)
	assert.Equal(t, StepDone, ps.Steps[0].Status)
	assert.Equal(t, StepRunning, ps.Steps[1].Status)
	assert.Equal(t, 2, ps.Steps[1].Attempts)
	require.NotNil(t, ps.Steps[1].VerificationScore)
	assert.Equal(t, 0.4, *ps.Steps[1].VerificationScore)
	assert.Equal(t, StepPending, ps.Steps[2].Status)
	assert.Nil(t, ps.Steps[2].VerificationScore)
}

func TestNewPlanStatus_Failed(t *testing.T) {
	records := []TraceRecord{
		{StepID: 1, Status: StepSuccess, Score: 1, Passed: true},
		{StepID: 2, Status: StepFailure},
	}

	ps := NewPlanStatus("req", Failed, threeSteps(), records)

	assert.Nil(t, ps.CurrentStep)
	assert.Equal(t, 1, ps.CompletedSteps)
	assert.Equal(t, 1, ps.FailedSteps)
	assert.Equal(t, StepFailed, ps.Steps[1].Status)
	assert.Equal(t, StepPending, ps.Steps[2].Status)
}

func TestStatus_PlanStatus(t *testing.T) {
	_, ok := Status{RequestID: "req"}.PlanStatus()
	assert.False(t, ok)

	live := threeSteps()
	final := threeSteps()
	final.Version = 3
	st := Status{RequestID: "req", State: Finished, Plan: &live, Result: &Result{Plan: &final}}

	ps, ok := st.PlanStatus()

	require.True(t, ok)
	assert.Equal(t, 3, ps.PlanVersion)
	assert.Equal(t, "req", ps.RequestID)
}
