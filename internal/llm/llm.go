// Package llm adapts langchaingo chains to the small completion interface
// the model-backed agents depend on.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	langChainPrompts "github.com/tmc/langchaingo/prompts"

	"go-analyst/pkg/config"
)

var ErrEmptyCompletion = errors.New("empty completion")

// Completer renders one prompt with inputs and returns the model's text.
type Completer interface {
	Complete(ctx context.Context, inputs map[string]any) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, inputs map[string]any) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, inputs map[string]any) (string, error) {
	return f(ctx, inputs)
}

// NewModel builds the OpenAI-compatible model described by cfg.
func NewModel(cfg config.LLM) (llms.Model, error) {
	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return m, nil
}

// Chain is a Completer over a langchaingo LLM chain with a fixed prompt.
type Chain struct {
	chain chains.Chain
	opts  []chains.ChainCallOption
}

// NewChain binds template, whose variables are vars, to model.
func NewChain(model llms.Model, template string, vars []string, cfg config.LLM) *Chain {
	prompt := langChainPrompts.NewPromptTemplate(template, vars)
	var opts []chains.ChainCallOption
	if cfg.Temperature > 0 {
		opts = append(opts, chains.WithTemperature(cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, chains.WithMaxTokens(cfg.MaxTokens))
	}
	return &Chain{chain: chains.NewLLMChain(model, prompt), opts: opts}
}

func (c *Chain) Complete(ctx context.Context, inputs map[string]any) (string, error) {
	completion, err := chains.Call(ctx, c.chain, inputs, c.opts...)
	if err != nil {
		return "", fmt.Errorf("call: %w", err)
	}
	text, ok := completion[c.chain.GetOutputKeys()[0]].(string)
	if !ok || text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
