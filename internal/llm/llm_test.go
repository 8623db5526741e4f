package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"go-analyst/pkg/config"
)

// echoModel answers with the rendered prompt in upper case.
type echoModel struct {
	prompts []string
}

func (m *echoModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var b strings.Builder
	for _, msg := range messages {
		for _, p := range msg.Parts {
			if t, ok := p.(llms.TextContent); ok {
				b.WriteString(t.Text)
			}
		}
	}
	m.prompts = append(m.prompts, b.String())
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: strings.ToUpper(b.String())}}}, nil
}

func (m *echoModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestChain_Complete(t *testing.T) {
	model := &echoModel{}
	c := NewChain(model, "plan for {{.Query}}", []string{"Query"}, config.LLM{Temperature: 0.1, MaxTokens: 100})

	out, err := c.Complete(context.Background(), map[string]any{"Query": "sales"})

	require.NoError(t, err)
	assert.Equal(t, "PLAN FOR SALES", out)
	assert.Equal(t, []string{"plan for sales"}, model.prompts)
}

func TestChain_EmptyCompletion(t *testing.T) {
	c := NewChain(&echoModel{}, "{{.Query}}", []string{"Query"}, config.LLM{})

	_, err := c.Complete(context.Background(), map[string]any{"Query": ""})

	assert.ErrorIs(t, err, ErrEmptyCompletion)
}
