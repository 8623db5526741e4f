package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-analyst/pkg/models"
)

type funcTool struct {
	name string
	fn   func(ctx context.Context, params map[string]any) (any, error)
}

func (f funcTool) Name() string               { return f.name }
func (f funcTool) Description() string        { return "test tool " + f.name }
func (f funcTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (f funcTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	return f.fn(ctx, params)
}

func newTestInvoker(t *testing.T, timeout time.Duration, tools ...Tool) *Invoker {
	t.Helper()
	r := NewRegistry()
	for _, tool := range tools {
		require.NoError(t, r.Register(tool))
	}
	return NewInvoker(r, timeout)
}

func TestInvoker_Success(t *testing.T) {
	inv := newTestInvoker(t, time.Second, funcTool{name: "echo", fn: func(_ context.Context, p map[string]any) (any, error) {
		return map[string]any{"got": p["x"]}, nil
	}})

	res := inv.Invoke(context.Background(), models.Step{ID: 4, Tool: "echo", Params: map[string]any{"x": "y"}})

	require.Equal(t, models.StepSuccess, res.Status)
	assert.Nil(t, res.Error)
	assert.Equal(t, 4, res.StepID)
	assert.JSONEq(t, `{"got":"y"}`, string(res.Output))
}

func TestInvoker_Failures(t *testing.T) {
	block := funcTool{name: "block", fn: func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return "late", nil
	}}
	panics := funcTool{name: "panics", fn: func(context.Context, map[string]any) (any, error) {
		panic("kaboom")
	}}
	typed := funcTool{name: "typed", fn: func(context.Context, map[string]any) (any, error) {
		return nil, models.NewToolError(models.DependencyUnavailable, "upstream returned %d", 503)
	}}
	plain := funcTool{name: "plain", fn: func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("disk on fire")
	}}
	unmarshalable := funcTool{name: "chan", fn: func(context.Context, map[string]any) (any, error) {
		return make(chan int), nil
	}}
	inv := newTestInvoker(t, 30*time.Millisecond, block, panics, typed, plain, unmarshalable)

	tests := []struct {
		tool string
		kind models.ToolErrorKind
	}{
		{tool: "missing", kind: models.ToolNotFound},
		{tool: "block", kind: models.ExecutionTimeout},
		{tool: "panics", kind: models.ToolInternalError},
		{tool: "typed", kind: models.DependencyUnavailable},
		{tool: "plain", kind: models.ToolInternalError},
		{tool: "chan", kind: models.ToolInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			res := inv.Invoke(context.Background(), models.Step{ID: 1, Tool: tt.tool})

			require.Equal(t, models.StepFailure, res.Status)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.kind, res.Error.Kind)
			assert.Equal(t, tt.tool, res.Error.Tool)
			assert.Empty(t, res.Output)
		})
	}
}

func TestInvoker_DoesNotShareParams(t *testing.T) {
	inv := newTestInvoker(t, 0, funcTool{name: "mutate", fn: func(_ context.Context, p map[string]any) (any, error) {
		p["x"] = "changed"
		return nil, nil
	}})
	step := models.Step{ID: 1, Tool: "mutate", Params: map[string]any{"x": "orig"}}

	res := inv.Invoke(context.Background(), step)

	assert.Equal(t, models.StepSuccess, res.Status)
	assert.Equal(t, "orig", step.Params["x"])
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(funcTool{name: "b"}))
	require.NoError(t, r.Register(funcTool{name: "a"}))
	assert.Error(t, r.Register(funcTool{name: "a"}))
	assert.Error(t, r.Register(funcTool{}))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	_, ok := r.Get("b")
	assert.True(t, ok)
}
