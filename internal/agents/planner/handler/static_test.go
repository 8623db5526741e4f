package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-analyst/pkg/models"
)

func TestStatic_SuppliedPlan(t *testing.T) {
	s := NewStatic(nil)

	plan, err := s.Plan(context.Background(), "q", map[string]any{
		PlanKey: []any{
			map[string]any{"id": 2.0, "tool": "analyze", "params": map[string]any{"operation": "summary"}},
			map[string]any{"id": 1.0, "tool": "load_local", "params": map[string]any{"path": "sales.csv"}},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, plan.Version)
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, []int{1, 2}, plan.StepIDs())
}

func TestStatic_Fallback(t *testing.T) {
	c, seen := scripted(`{"steps":[{"id":1,"tool":"analyze"}]}`)
	s := NewStatic(New(c, "", 1))

	plan, err := s.Plan(context.Background(), "q", map[string]any{"year": 2024})

	require.NoError(t, err)
	assert.Len(t, plan.Steps, 1)
	assert.Len(t, *seen, 1)
}

func TestStatic_Errors(t *testing.T) {
	_, err := NewStatic(nil).Plan(context.Background(), "q", nil)
	assert.ErrorIs(t, err, models.ErrPlanEmpty)

	_, err = NewStatic(nil).Plan(context.Background(), "q", map[string]any{PlanKey: "not steps"})
	assert.ErrorIs(t, err, models.ErrPlanUnparseable)

	_, err = NewStatic(nil).Plan(context.Background(), "q", map[string]any{PlanKey: []any{
		map[string]any{"id": 1.0, "tool": "a"},
		map[string]any{"id": 1.0, "tool": "b"},
	}})
	assert.ErrorIs(t, err, models.ErrPlanUnparseable)
}
