package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"go-analyst/pkg/models"
)

func TestSink(t *testing.T) {
	ctx := context.Background()
	s := Sink{}

	before := testutil.ToFloat64(stepAttempts.WithLabelValues("sql_query", "success", "false"))
	s.Record(ctx, models.TraceRecord{Tool: "sql_query", Status: models.StepSuccess, Score: 0.4})
	assert.Equal(t, before+1, testutil.ToFloat64(stepAttempts.WithLabelValues("sql_query", "success", "false")))

	before = testutil.ToFloat64(violations)
	s.ObserveViolation(ctx, "r", models.Violation{StepID: 1})
	assert.Equal(t, before+1, testutil.ToFloat64(violations))

	before = testutil.ToFloat64(runs.WithLabelValues("failed", "ReplanFailure"))
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ObserveResult(ctx, &models.Result{
		Status:     models.RunFailed,
		Failure:    &models.Failure{Cause: models.CauseReplanFailure},
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
	})
	assert.Equal(t, before+1, testutil.ToFloat64(runs.WithLabelValues("failed", "ReplanFailure")))
}

func TestReplanOutcome(t *testing.T) {
	cases := map[string]models.ReplanRecord{
		"accepted":   {Accepted: true},
		"wasted":     {Accepted: true, Wasted: true},
		"decomposed": {Accepted: true, Decomposed: true},
		"rejected":   {Reason: "version not bumped"},
	}
	for want, rec := range cases {
		assert.Equal(t, want, replanOutcome(rec))
	}
}
