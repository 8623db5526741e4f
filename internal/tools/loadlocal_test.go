package tools

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-analyst/pkg/models"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sales/2023.csv":   {Data: []byte("region,revenue\nEU,100\nUS,250.5\n")},
		"sales/2024.csv":   {Data: []byte("region,revenue\nEU,120\n")},
		"events.jsonl":     {Data: []byte("{\"kind\":\"a\"}\n\n{\"kind\":\"b\"}\n")},
		"people.json":      {Data: []byte(`[{"name":"ann","age":31},{"name":"bo","age":27}]`)},
		"notes/readme.txt": {Data: []byte("hello")},
	}
}

func toolKind(t *testing.T, err error) models.ToolErrorKind {
	t.Helper()
	var te *models.ToolError
	require.True(t, errors.As(err, &te), "expected a tool error, got %v", err)
	return te.Kind
}

func TestLoadLocal_CSV(t *testing.T) {
	l := newLoadLocal(testFS(), 100)

	out, err := l.Execute(context.Background(), map[string]any{"path": "sales/2023.csv"})

	require.NoError(t, err)
	ds := out.(dataset)
	assert.Equal(t, formatCSV, ds.Format)
	assert.Equal(t, []string{"region", "revenue"}, ds.Columns)
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, "US", ds.Rows[1]["region"])
	assert.Equal(t, 250.5, ds.Rows[1]["revenue"])
}

func TestLoadLocal_Glob(t *testing.T) {
	l := newLoadLocal(testFS(), 100)

	out, err := l.Execute(context.Background(), map[string]any{"path": "sales/**/*.csv"})

	require.NoError(t, err)
	ds := out.(dataset)
	assert.Equal(t, []string{"sales/2023.csv", "sales/2024.csv"}, ds.Files)
	require.Len(t, ds.Rows, 3)
	assert.Equal(t, "sales/2024.csv", ds.Rows[2]["_file"])
}

func TestLoadLocal_Formats(t *testing.T) {
	l := newLoadLocal(testFS(), 100)

	out, err := l.Execute(context.Background(), map[string]any{"path": "events.jsonl"})
	require.NoError(t, err)
	assert.Len(t, out.(dataset).Rows, 2)

	out, err = l.Execute(context.Background(), map[string]any{"path": "people.json"})
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "name"}, out.(dataset).Columns)

	out, err = l.Execute(context.Background(), map[string]any{"path": "notes/readme.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.(dataset).Text)
	assert.Empty(t, out.(dataset).Rows)
}

func TestLoadLocal_Limit(t *testing.T) {
	l := newLoadLocal(testFS(), 100)

	out, err := l.Execute(context.Background(), map[string]any{"path": "sales/2023.csv", "limit": 1.0})

	require.NoError(t, err)
	assert.Len(t, out.(dataset).Rows, 1)
	assert.True(t, out.(dataset).Truncated)
}

func TestLoadLocal_InvalidPaths(t *testing.T) {
	l := newLoadLocal(testFS(), 100)

	for _, p := range []string{"../etc/passwd", "/etc/passwd", "missing.csv", "nothing/*.csv", "sales"} {
		t.Run(p, func(t *testing.T) {
			_, err := l.Execute(context.Background(), map[string]any{"path": p})
			require.Error(t, err)
			assert.Equal(t, models.InvalidParams, toolKind(t, err))
		})
	}

	_, err := l.Execute(context.Background(), map[string]any{})
	assert.Equal(t, models.InvalidParams, toolKind(t, err))
}
