package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-analyst/pkg/models"
)

func metricRows() []any {
	return []any{
		map[string]any{"region": "EU", "x": 1.0, "y": 2.0},
		map[string]any{"region": "US", "x": 2.0, "y": 4.0},
		map[string]any{"region": "EU", "x": 3.0, "y": 6.0},
		map[string]any{"region": "US", "x": 4.0, "y": nil},
	}
}

func run(t *testing.T, params map[string]any) analysis {
	t.Helper()
	out, err := NewAnalyze().Execute(context.Background(), params)
	require.NoError(t, err)
	return out.(analysis)
}

func TestAnalyze_Summary(t *testing.T) {
	res := run(t, map[string]any{"rows": metricRows()})

	assert.Equal(t, opSummary, res.Operation)
	assert.Equal(t, 4, res.Rows)
	s := res.Result.(map[string]columnSummary)
	x := s["x"]
	assert.Equal(t, "number", x.Type)
	assert.Equal(t, 4, x.Count)
	assert.InDelta(t, 2.5, *x.Mean, 1e-9)
	assert.InDelta(t, 2.5, *x.Median, 1e-9)
	assert.InDelta(t, 1.75, *x.P25, 1e-9)
	assert.Equal(t, 1, s["y"].Nulls)
	assert.Equal(t, "text", s["region"].Type)
	assert.Equal(t, 2, s["region"].Unique)
	assert.Nil(t, s["region"].Mean)
}

func TestAnalyze_Correlation(t *testing.T) {
	res := run(t, map[string]any{"rows": metricRows(), "operation": "correlation"})

	m := res.Result.(map[string]map[string]*float64)
	require.NotNil(t, m["x"]["y"])
	assert.InDelta(t, 1.0, *m["x"]["y"], 1e-9)
	_, hasRegion := m["region"]
	assert.False(t, hasRegion)
}

func TestAnalyze_GroupBy(t *testing.T) {
	res := run(t, map[string]any{"rows": metricRows(), "operation": "groupby", "by": "region", "value": "x", "agg": "sum"})

	groups := res.Result.([]group)
	require.Len(t, groups, 2)
	assert.Equal(t, "EU", groups[0].Key)
	assert.Equal(t, 4.0, groups[0].Value)
	assert.Equal(t, 2, groups[1].Count)
	assert.Equal(t, 6.0, groups[1].Value)
}

func TestAnalyze_Filter(t *testing.T) {
	res := run(t, map[string]any{"rows": metricRows(), "operation": "filter", "expression": `region == "EU" && x > 1`})

	f := res.Result.(filtered)
	assert.Equal(t, 4, f.Original)
	require.Equal(t, 1, f.Kept)
	assert.Equal(t, 3.0, f.Rows[0]["x"])
}

func TestAnalyze_Transform(t *testing.T) {
	res := run(t, map[string]any{"rows": metricRows(), "operation": "transform", "transform": "normalize", "columns": []any{"x"}})

	rows := res.Result.([]map[string]any)
	assert.Equal(t, 0.0, rows[0]["x"])
	assert.Equal(t, 1.0, rows[3]["x"])
	assert.Equal(t, 2.0, rows[0]["y"], "other columns are untouched")
}

func TestAnalyze_InvalidParams(t *testing.T) {
	a := NewAnalyze()
	cases := []map[string]any{
		{},
		{"rows": metricRows(), "operation": "pivot"},
		{"rows": metricRows(), "operation": "filter", "expression": "x >"},
		{"rows": metricRows(), "operation": "groupby"},
		{"rows": metricRows(), "operation": "correlation", "columns": []any{"x"}},
	}
	for _, params := range cases {
		_, err := a.Execute(context.Background(), params)
		require.Error(t, err, "%v", params)
		assert.Equal(t, models.InvalidParams, toolKind(t, err))
	}
}
