package orchestrator

import (
	"time"

	"go-analyst/pkg/models"
)

type Phase string

const (
	PhasePlanning    Phase = "PLANNING"
	PhaseRunningStep Phase = "RUNNING_STEP"
	PhaseVerifying   Phase = "VERIFYING"
	PhaseAdvancing   Phase = "ADVANCING"
	PhaseReplanning  Phase = "REPLANNING"
	PhaseFailed      Phase = "FAILED"
	PhaseDone        Phase = "DONE"
)

func (p Phase) Terminal() bool {
	return p == PhaseFailed || p == PhaseDone
}

// ExecutionState is the mutable state of one request. Only the run that
// created it mutates it.
type ExecutionState struct {
	RequestID string
	Phase     Phase
	Plan      *models.Plan
	// Index is the plan position of the current step; every position before
	// it holds a step that passed verification.
	Index int
	// Retries counts budget units per plan position: one per executed
	// attempt and one per rejected or failed replan.
	Retries map[int]int
	// Decompositions counts decomposer calls per plan position.
	Decompositions map[int]int
	Trace          models.Trace
	Replans        []models.ReplanRecord
	Violations     []models.Violation
	Failure        *models.Failure
	StartedAt      time.Time

	outputs map[string]any
	results map[int]models.StepResult
}

func newExecutionState(requestID string, now time.Time) *ExecutionState {
	return &ExecutionState{
		RequestID:      requestID,
		Phase:          PhasePlanning,
		Retries:        make(map[int]int),
		Decompositions: make(map[int]int),
		StartedAt:      now,
		outputs:        make(map[string]any),
		results:        make(map[int]models.StepResult),
	}
}

func (s *ExecutionState) planID() string {
	if s.Plan == nil {
		return ""
	}
	return s.Plan.ID
}

func (s *ExecutionState) planVersion() int {
	if s.Plan == nil {
		return 0
	}
	return s.Plan.Version
}

// current returns a copy of the step at the cursor; collaborators never see
// the plan's own params.
func (s *ExecutionState) current() models.Step {
	return s.Plan.Steps[s.Index].Clone()
}
