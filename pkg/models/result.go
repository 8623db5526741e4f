package models

import (
	"encoding/json"
	"math"
	"time"
)

type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
)

type StepResult struct {
	StepID   int             `json:"step_id"`
	Status   StepStatus      `json:"status"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    *ToolError      `json:"error,omitempty"`
	Attempt  int             `json:"attempt"`
	Duration time.Duration   `json:"duration"`
}

// Clone returns a copy of r that shares no memory with it.
func (r StepResult) Clone() StepResult {
	c := r
	if r.Output != nil {
		c.Output = append(json.RawMessage(nil), r.Output...)
	}
	if r.Error != nil {
		te := *r.Error
		c.Error = &te
	}
	return c
}

func (r StepResult) Failed() bool {
	return r.Status != StepSuccess
}

// VerificationOutcome is a scored judgement of one attempt.
// Passed is always derived from Score; use NewOutcome to build one.
type VerificationOutcome struct {
	StepID int      `json:"step_id"`
	Score  float64  `json:"score"`
	Passed bool     `json:"passed"`
	Issues []string `json:"issues"`
}

func NewOutcome(stepID int, score, threshold float64, issues []string) VerificationOutcome {
	if issues == nil {
		issues = []string{}
	}
	return VerificationOutcome{StepID: stepID, Score: score, Passed: score >= threshold, Issues: issues}
}

// Consistent re-derives Passed from Score.
func (v VerificationOutcome) Consistent(threshold float64) bool {
	return v.Passed == (v.Score >= threshold)
}

// ValidScore reports whether s is a usable verification score.
func ValidScore(s float64) bool {
	return !math.IsNaN(s) && s >= 0 && s <= 1
}

// Diagnostic is what the replanner is told about a failed attempt.
type Diagnostic struct {
	Cause   Cause      `json:"cause"`
	Attempt int        `json:"attempt"`
	Error   *ToolError `json:"error,omitempty"`
	Score   float64    `json:"score"`
	Issues  []string   `json:"issues,omitempty"`
	Note    string     `json:"note,omitempty"`
}

// ReplanRecord audits one REPLANNING decision.
type ReplanRecord struct {
	StepID      int    `json:"step_id"`
	Attempt     int    `json:"attempt"`
	FromVersion int    `json:"from_version"`
	ToVersion   int    `json:"to_version,omitempty"`
	Accepted    bool   `json:"accepted"`
	Wasted      bool   `json:"wasted,omitempty"`
	Decomposed  bool   `json:"decomposed,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Violation is a revised plan that tried to rewrite completed work.
type Violation struct {
	StepID      int    `json:"step_id"`
	PlanVersion int    `json:"plan_version"`
	Message     string `json:"message"`
}

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// StepOutput is one aggregated output of a finished plan.
type StepOutput struct {
	StepID int             `json:"step_id"`
	Tool   string          `json:"tool"`
	Output json.RawMessage `json:"output"`
}

// Result is the terminal output of a request, success or not.
type Result struct {
	RequestID  string         `json:"request_id"`
	PlanID     string         `json:"plan_id"`
	Status     RunStatus      `json:"status"`
	Failure    *Failure       `json:"failure,omitempty"`
	Steps      []StepResult   `json:"steps"`
	Output     []StepOutput   `json:"output,omitempty"`
	Trace      []TraceEntry   `json:"trace"`
	Plan       *Plan          `json:"plan,omitempty"`
	Replans    []ReplanRecord `json:"replans,omitempty"`
	Violations []Violation    `json:"violations,omitempty"`
	Retries    map[int]int    `json:"retries,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

func (r *Result) Succeeded() bool {
	return r.Status == RunSuccess
}

// State maps a finished result onto the request state it leaves behind.
func (r *Result) State() State {
	switch {
	case r.Succeeded():
		return Finished
	case r.Failure != nil && r.Failure.Cause == CauseCancelled:
		return Cancelled
	default:
		return Failed
	}
}

// Answer is the decoded output of the last step of a successful run, or nil.
func (r *Result) Answer() any {
	if !r.Succeeded() || len(r.Output) == 0 {
		return nil
	}
	raw := r.Output[len(r.Output)-1].Output
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// Answers lists the answer as an array: a list answer as is, anything else
// as its single element.
func (r *Result) Answers() []any {
	switch a := r.Answer().(type) {
	case nil:
		return []any{}
	case []any:
		return a
	default:
		return []any{a}
	}
}
