package logger

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	AgentNameField   = "agent"
	ActorIDField     = "actor"
	RequestIDField   = "request"
	PlanIDField      = "plan"
	PlanVersionField = "plan_version"
	StepIDField      = "step"
	AttemptField     = "attempt"
	ToolField        = "tool"
	PhaseField       = "phase"
	ScoreField       = "score"
)

func NewGlobal(level string, pretty bool) error {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}

	zerolog.SetGlobalLevel(l)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}
