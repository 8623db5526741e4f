package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type StepType string

const (
	StepAction             StepType = "action"
	StepNeedsDecomposition StepType = "needs_decomposition"
)

// Step is one tool invocation. Steps are values; a revision is a new Step.
type Step struct {
	ID             int            `json:"id"`
	Tool           string         `json:"tool"`
	Params         map[string]any `json:"params"`
	ExpectedOutput string         `json:"expected_output"`
	Type           StepType       `json:"step_type"`
}

// Clone returns a copy of the step that shares no mutable state with s.
func (s Step) Clone() Step {
	c := s
	c.Params = cloneParams(s.Params)
	if c.Type == "" {
		c.Type = StepAction
	}
	return c
}

// Equal reports whether two steps describe the same invocation.
func (s Step) Equal(o Step) bool {
	if s.ID != o.ID || s.Tool != o.Tool || s.ExpectedOutput != o.ExpectedOutput || s.kind() != o.kind() {
		return false
	}
	a, errA := json.Marshal(s.Params)
	b, errB := json.Marshal(o.Params)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func (s Step) kind() StepType {
	if s.Type == "" {
		return StepAction
	}
	return s.Type
}

// NeedsDecomposition reports whether the step must be expanded before it can run.
func (s Step) NeedsDecomposition() bool {
	return s.kind() == StepNeedsDecomposition
}

// Plan is an ordered list of steps answering one request.
type Plan struct {
	ID      string `json:"plan_id"`
	Version int    `json:"version"`
	Steps   []Step `json:"steps"`
}

// Clone deep-copies the plan.
func (p Plan) Clone() Plan {
	c := Plan{ID: p.ID, Version: p.Version, Steps: make([]Step, len(p.Steps))}
	for i, s := range p.Steps {
		c.Steps[i] = s.Clone()
	}
	return c
}

// Validate checks the structural invariants of a plan.
func (p Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	if p.Version < 1 {
		return fmt.Errorf("plan version must be positive, got %d", p.Version)
	}
	seen := make(map[int]struct{}, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID <= 0 {
			return fmt.Errorf("step %d: id must be positive, got %d", i, s.ID)
		}
		if s.Tool == "" {
			return fmt.Errorf("step %d: tool is required", s.ID)
		}
		switch s.kind() {
		case StepAction, StepNeedsDecomposition:
		default:
			return fmt.Errorf("step %d: unknown step type %q", s.ID, s.Type)
		}
		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("step %d: duplicate id", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// SameSteps reports whether both plans hold identical steps in the same order.
func (p Plan) SameSteps(o Plan) bool {
	if len(p.Steps) != len(o.Steps) {
		return false
	}
	for i := range p.Steps {
		if !p.Steps[i].Equal(o.Steps[i]) {
			return false
		}
	}
	return true
}

// StepIDs lists step ids in plan order.
func (p Plan) StepIDs() []int {
	ids := make([]int, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.ID
	}
	return ids
}

func cloneParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneParams(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
