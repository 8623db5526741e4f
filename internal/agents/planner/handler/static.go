package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"go-analyst/pkg/data"
	"go-analyst/pkg/models"
)

// PlanKey is the query context key under which a caller may supply the
// steps to run instead of asking the model.
const PlanKey = "plan"

var errNoModel = errors.New("no model configured and no plan supplied")

type planner interface {
	Plan(ctx context.Context, query string, qctx map[string]any) (models.Plan, error)
}

// Static adopts caller supplied steps and defers everything else to next,
// which may be nil when no model is configured.
type Static struct {
	next  planner
	newID func() string
}

func NewStatic(next planner) *Static {
	return &Static{next: next, newID: uuid.NewString}
}

func (s *Static) Plan(ctx context.Context, query string, qctx map[string]any) (models.Plan, error) {
	raw, ok := qctx[PlanKey]
	if !ok {
		if s.next == nil {
			return models.Plan{}, fmt.Errorf("%w: %v", models.ErrPlanEmpty, errNoModel)
		}
		return s.next.Plan(ctx, query, qctx)
	}

	b, err := json.Marshal(map[string]any{"steps": raw})
	if err != nil {
		return models.Plan{}, fmt.Errorf("%w: %v", models.ErrPlanUnparseable, err)
	}
	steps, err := data.ParseSteps(string(b))
	if err != nil {
		return models.Plan{}, err
	}
	plan := models.Plan{ID: s.newID(), Version: 1, Steps: steps}
	if err := plan.Validate(); err != nil {
		return models.Plan{}, fmt.Errorf("%w: %v", models.ErrPlanUnparseable, err)
	}
	return plan, nil
}
