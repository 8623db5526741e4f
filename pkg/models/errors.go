package models

import (
	"errors"
	"fmt"
)

var (
	ErrPlanUnparseable    = errors.New("plan unparseable")
	ErrPlanEmpty          = errors.New("plan empty")
	ErrReplanUnavailable  = errors.New("replan unavailable")
	ErrVerdictUnparseable = errors.New("verdict unparseable")
)

type ToolErrorKind string

const (
	ToolNotFound          ToolErrorKind = "ToolNotFound"
	InvalidParams         ToolErrorKind = "InvalidParams"
	ExecutionTimeout      ToolErrorKind = "ExecutionTimeout"
	ToolInternalError     ToolErrorKind = "ToolInternalError"
	DependencyUnavailable ToolErrorKind = "DependencyUnavailable"
)

// ToolError is the typed failure captured into a StepResult.
type ToolError struct {
	Kind    ToolErrorKind `json:"kind"`
	Tool    string        `json:"tool,omitempty"`
	Message string        `json:"message"`
	Err     error         `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Tool, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// NewToolError builds a ToolError, keeping err as the cause when set.
func NewToolError(kind ToolErrorKind, format string, args ...any) *ToolError {
	te := &ToolError{Kind: kind, Message: fmt.Sprintf(format, args...)}
	for _, a := range args {
		if err, ok := a.(error); ok {
			te.Err = err
			break
		}
	}
	return te
}

// Cause classifies why a request failed, or why an attempt was rejected.
type Cause string

const (
	CausePlanningFailure     Cause = "PlanningFailure"
	CauseReplanFailure       Cause = "ReplanFailure"
	CauseCancelled           Cause = "Cancelled"
	CauseToolFailure         Cause = "ToolFailure"
	CauseVerificationFailure Cause = "VerificationFailure"
)

// Terminal reports whether the cause ends a request.
func (c Cause) Terminal() bool {
	switch c {
	case CausePlanningFailure, CauseReplanFailure, CauseCancelled:
		return true
	}
	return false
}

// Failure is the explicit error carried by a failed Result.
type Failure struct {
	Cause   Cause  `json:"cause"`
	StepID  int    `json:"step_id,omitempty"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	if f.StepID > 0 {
		return fmt.Sprintf("%s at step %d: %s", f.Cause, f.StepID, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Cause, f.Message)
}
