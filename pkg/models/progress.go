package models

const (
	StepPending = "pending"
	StepRunning = "running"
	StepDone    = "success"
	StepFailed  = "failed"
)

// PlanStatus is the per-step progress of a request's current plan.
type PlanStatus struct {
	RequestID      string           `json:"request_id"`
	PlanID         string           `json:"plan_id"`
	PlanVersion    int              `json:"plan_version"`
	State          State            `json:"state"`
	TotalSteps     int              `json:"total_steps"`
	CompletedSteps int              `json:"completed_steps"`
	FailedSteps    int              `json:"failed_steps"`
	CurrentStep    *int             `json:"current_step"`
	Steps          []PlanStepStatus `json:"steps"`
}

type PlanStepStatus struct {
	StepID            int      `json:"step_id"`
	Tool              string   `json:"tool"`
	Status            string   `json:"status"`
	Attempts          int      `json:"attempts"`
	VerificationScore *float64 `json:"verification_score"`
}

// NewPlanStatus folds the trace records of a request onto plan. Records of
// steps no longer in the plan are ignored.
func NewPlanStatus(requestID string, state State, plan Plan, records []TraceRecord) PlanStatus {
	latest := make(map[int]TraceRecord)
	attempts := make(map[int]int)
	for _, rec := range records {
		latest[rec.StepID] = rec
		attempts[rec.StepID]++
	}

	ps := PlanStatus{
		RequestID:   requestID,
		PlanID:      plan.ID,
		PlanVersion: plan.Version,
		State:       state,
		TotalSteps:  len(plan.Steps),
		Steps:       make([]PlanStepStatus, 0, len(plan.Steps)),
	}
	for _, s := range plan.Steps {
		st := PlanStepStatus{StepID: s.ID, Tool: s.Tool, Status: StepPending, Attempts: attempts[s.ID]}
		rec, seen := latest[s.ID]
		if seen {
			score := rec.Score
			st.VerificationScore = &score
		}
		switch {
		case seen && rec.Status == StepSuccess && rec.Passed:
			st.Status = StepDone
			ps.CompletedSteps++
		case ps.CurrentStep == nil && !state.Terminal():
			id := s.ID
			ps.CurrentStep = &id
			st.Status = StepRunning
		case seen:
			st.Status = StepFailed
			ps.FailedSteps++
		}
		ps.Steps = append(ps.Steps, st)
	}
	return ps
}
