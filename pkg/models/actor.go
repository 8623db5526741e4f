package models

import (
	"time"
)

// Status is the snapshot a supervisor answers GetStatus with.
type Status struct {
	RequestID string        `json:"request_id"`
	Query     string        `json:"query"`
	State     State         `json:"state"`
	Records   []TraceRecord `json:"records"`
	Plan      *Plan         `json:"plan,omitempty"`
	Result    *Result       `json:"result,omitempty"`
	Errs      Error         `json:"error,omitempty"`
}

// PlanStatus folds the snapshot onto its latest plan. ok is false before
// a plan has been adopted.
func (s Status) PlanStatus() (PlanStatus, bool) {
	plan := s.Plan
	if s.Result != nil && s.Result.Plan != nil {
		plan = s.Result.Plan
	}
	if plan == nil {
		return PlanStatus{}, false
	}
	return NewPlanStatus(s.RequestID, s.State, *plan, s.Records), true
}

type Error struct {
	ErrMessage string     `json:"error,omitempty"`
	Time       *time.Time `json:"time,omitempty"`
}

// Query is what a caller asks for.
type Query struct {
	Text    string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
}
