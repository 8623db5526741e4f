package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-analyst/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Records(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Record(ctx, models.TraceRecord{RequestID: "r1", PlanID: "p", PlanVersion: 1, StepID: 1, Attempt: 1, Tool: "load_local",
		Status: models.StepSuccess, Score: 0.9, Passed: true, Issues: nil, Timestamp: ts})
	s.Record(ctx, models.TraceRecord{RequestID: "r2", PlanID: "q", PlanVersion: 1, StepID: 1, Attempt: 1, Tool: "analyze",
		Status: models.StepSuccess, Score: 1, Passed: true, Timestamp: ts})
	s.Record(ctx, models.TraceRecord{RequestID: "r1", PlanID: "p", PlanVersion: 2, StepID: 2, Attempt: 1, Tool: "fetch_web",
		Status: models.StepFailure, Score: 0, Passed: false, Issues: []string{"ExecutionTimeout"}, Timestamp: ts.Add(time.Second)})

	recs, err := s.ListRecords(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "load_local", recs[0].Tool)
	assert.True(t, recs[0].Passed)
	assert.Equal(t, []string{}, recs[0].Issues)
	assert.True(t, ts.Equal(recs[0].Timestamp))

	assert.Equal(t, 2, recs[1].PlanVersion)
	assert.Equal(t, models.StepFailure, recs[1].Status)
	assert.False(t, recs[1].Passed)
	assert.Equal(t, []string{"ExecutionTimeout"}, recs[1].Issues)

	none, err := s.ListRecords(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_Results(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetResult(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	res := &models.Result{
		RequestID: "r1",
		PlanID:    "p",
		Status:    models.RunFailed,
		Failure:   &models.Failure{Cause: models.CauseReplanFailure, StepID: 2, Message: "budget spent"},
		Output:    []models.StepOutput{{StepID: 1, Tool: "analyze", Output: json.RawMessage(`{"n":1}`)}},
		Retries:   map[int]int{2: 3},
		StartedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	s.ObserveResult(ctx, res)

	got, err := s.GetResult(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, got.Status)
	require.NotNil(t, got.Failure)
	assert.Equal(t, models.CauseReplanFailure, got.Failure.Cause)
	assert.Equal(t, map[int]int{2: 3}, got.Retries)
	assert.JSONEq(t, `{"n":1}`, string(got.Output[0].Output))

	res.Status = models.RunSuccess
	res.Failure = nil
	require.NoError(t, s.SaveResult(ctx, res))

	got, err = s.GetResult(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, got.Succeeded())
	assert.Nil(t, got.Failure)
}

func TestSQLiteStore_RecordsAfterCancel(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.Record(ctx, models.TraceRecord{RequestID: "r1", PlanID: "p", StepID: 1, Attempt: 1, Tool: "t", Status: models.StepSuccess})

	recs, err := s.ListRecords(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
