package models

import "time"

// TraceEntry is one (step, attempt) tuple in a request's audit log.
type TraceEntry struct {
	PlanVersion  int                 `json:"plan_version"`
	Step         Step                `json:"step"`
	Attempt      int                 `json:"attempt"`
	Result       StepResult          `json:"result"`
	Verification VerificationOutcome `json:"verification"`
	Failed       bool                `json:"failed,omitempty"`
	Cause        Cause               `json:"cause,omitempty"`
}

// Clone returns a copy of e that shares no memory with it.
func (e TraceEntry) Clone() TraceEntry {
	c := e
	c.Step = e.Step.Clone()
	c.Result = e.Result.Clone()
	c.Verification.Issues = cloneStrings(e.Verification.Issues)
	return c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}

// Trace is append-only. The only permitted change to an existing entry is
// the failure marker written by Finalize.
type Trace struct {
	entries   []TraceEntry
	finalized bool
}

func (t *Trace) Append(e TraceEntry) {
	t.entries = append(t.entries, e.Clone())
}

func (t *Trace) Len() int {
	return len(t.entries)
}

// Entries returns a deep copy of the log.
func (t *Trace) Entries() []TraceEntry {
	out := make([]TraceEntry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Clone()
	}
	return out
}

// Last returns a copy of the newest entry.
func (t *Trace) Last() (TraceEntry, bool) {
	if len(t.entries) == 0 {
		return TraceEntry{}, false
	}
	return t.entries[len(t.entries)-1].Clone(), true
}

// Finalize marks the newest entry as the one that ended the request.
// It is a no-op on an empty or already finalized trace.
func (t *Trace) Finalize(cause Cause) {
	if t.finalized || len(t.entries) == 0 {
		return
	}
	t.finalized = true
	last := &t.entries[len(t.entries)-1]
	last.Failed = true
	last.Cause = cause
}

// TraceRecord is the flat, immutable record emitted to trace sinks per attempt.
type TraceRecord struct {
	RequestID   string     `json:"request_id"`
	PlanID      string     `json:"plan_id"`
	PlanVersion int        `json:"plan_version"`
	StepID      int        `json:"step_id"`
	Attempt     int        `json:"attempt"`
	Tool        string     `json:"tool"`
	Status      StepStatus `json:"status"`
	Score       float64    `json:"score"`
	Passed      bool       `json:"passed"`
	Issues      []string   `json:"issues"`
	Timestamp   time.Time  `json:"timestamp"`
}

// NewTraceRecord flattens a trace entry for the sinks.
func NewTraceRecord(requestID, planID string, e TraceEntry, ts time.Time) TraceRecord {
	issues := make([]string, len(e.Verification.Issues))
	copy(issues, e.Verification.Issues)
	return TraceRecord{
		RequestID:   requestID,
		PlanID:      planID,
		PlanVersion: e.PlanVersion,
		StepID:      e.Step.ID,
		Attempt:     e.Attempt,
		Tool:        e.Step.Tool,
		Status:      e.Result.Status,
		Score:       e.Verification.Score,
		Passed:      e.Verification.Passed,
		Issues:      issues,
		Timestamp:   ts,
	}
}
