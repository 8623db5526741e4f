// Package tools holds the analyst's tool catalogue and the invoker that runs
// plan steps against it.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go-analyst/pkg/config"
)

// Tool is one capability a plan step can name.
type Tool interface {
	Name() string
	Description() string
	// Parameters describes the accepted params as a JSON schema object.
	Parameters() map[string]any
	// Execute returns a JSON-marshalable value. Errors of type
	// *models.ToolError keep their kind.
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// Registry stores tools keyed by name. It is built per application.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool is required")
	}
	if t.Name() == "" {
		return fmt.Errorf("tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool already registered: %s", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// MustRegister adds a tool or panics.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Describe is the catalogue entry of one tool.
type Describe struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// List returns the catalogue sorted by name.
func (r *Registry) List() []Describe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Describe, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Describe{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Builtin returns a registry holding the analyst tools.
func Builtin(cfg config.Tools) *Registry {
	r := NewRegistry()
	r.MustRegister(NewFetchWeb(cfg))
	r.MustRegister(NewLoadLocal(cfg))
	r.MustRegister(NewSQLQuery(cfg.MaxRows))
	r.MustRegister(NewAnalyze())
	r.MustRegister(NewVisualize())
	return r
}
