package format

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-analyst/pkg/models"
)

func result(t *testing.T, answer any) *models.Result {
	t.Helper()
	raw, err := json.Marshal(answer)
	require.NoError(t, err)
	return &models.Result{
		RequestID: "req-1",
		PlanID:    "plan-1",
		Status:    models.RunSuccess,
		Output:    []models.StepOutput{{StepID: 1, Tool: "sql_query", Output: raw}},
	}
}

func salesRows(n int) map[string]any {
	rows := make([]any, n)
	for i := range rows {
		rows[i] = map[string]any{"region": fmt.Sprintf("r%d", i), "amount": float64(i * 10)}
	}
	return map[string]any{"columns": []any{"region", "amount"}, "rows": rows}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"", JSON},
		{"json", JSON},
		{"Markdown", Markdown},
		{" html ", HTML},
		{"text", Text},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := Parse("pdf")
	assert.Error(t, err)
}

func TestResult_Table(t *testing.T) {
	res := result(t, salesRows(12))

	out, err := Result(res, Markdown)
	require.NoError(t, err)
	text := out.Data.(string)
	assert.Contains(t, text, "| amount | region |\n| --- | --- |\n| 0 | r0 |\n")
	assert.Contains(t, text, "*... and 2 more rows*")
	assert.NotContains(t, text, "r10")

	out, err = Result(res, HTML)
	require.NoError(t, err)
	assert.Contains(t, out.Data.(string), "<table>")
	assert.Contains(t, out.Data.(string), "<td>r9</td>")

	out, err = Result(res, Text)
	require.NoError(t, err)
	assert.Contains(t, out.Data.(string), "amount\tregion\n0\tr0\n")

	out, err = Result(res, JSON)
	require.NoError(t, err)
	assert.Equal(t, "plan-1", out.Metadata["plan_id"])
	assert.Len(t, out.Data.(map[string]any)["rows"], 12)
}

func TestResult_NonTable(t *testing.T) {
	res := result(t, map[string]any{"mean": 20.0})

	out, err := Result(res, Markdown)
	require.NoError(t, err)
	assert.Equal(t, "```json\n{\n  \"mean\": 20\n}\n```\n", out.Data)

	out, err = Result(res, HTML)
	require.NoError(t, err)
	assert.Contains(t, out.Data.(string), "<pre><code")

	out, err = Result(result(t, "plain answer <script>alert(1)</script>"), HTML)
	require.NoError(t, err)
	assert.NotContains(t, out.Data.(string), "<script>")
	assert.Contains(t, out.Data.(string), "plain answer")
}

func TestResult_Failure(t *testing.T) {
	res := &models.Result{
		RequestID: "req-2",
		Status:    models.RunFailed,
		Failure:   &models.Failure{Cause: models.CausePlanningFailure, Message: "no plan"},
	}

	out, err := Result(res, Text)

	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, out.Status)
	assert.Contains(t, out.Error, "no plan")
	assert.Equal(t, "null", out.Data)
}
