package messages

import (
	"github.com/google/uuid"

	"go-analyst/pkg/models"
)

// NewQuery starts a request on a fresh supervisor.
type NewQuery struct {
	RequestID uuid.UUID
	Query     models.Query
}

type GetStatus struct{}

// Cancel asks the supervisor to stop its run. The run still finishes with
// a Cancelled result.
type Cancel struct{}

// Progress carries one trace record from the running orchestrator back to
// its supervisor.
type Progress struct {
	Record models.TraceRecord
}

// PlanAdopted carries the plan the running orchestrator is now following.
type PlanAdopted struct {
	Plan models.Plan
}

type RunFinished struct {
	Result *models.Result
}
