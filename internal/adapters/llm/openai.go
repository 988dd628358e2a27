package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
	"github.com/sashabaranov/go-openai"
)

var _ ports.Backend = (*OpenAIProvider)(nil)

// OpenAIProvider implements the backend using an OpenAI-compatible API.
// Works with: OpenAI, Azure OpenAI, Together AI, OpenRouter, local Ollama /v1, etc.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI-compatible provider
func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = openai.GPT4o
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	// Research steps are slow; the job timeout bounds them, not the client.
	config.HTTPClient = &http.Client{Timeout: 10 * time.Minute}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// GenerateText generates text using the chat completions API
func (p *OpenAIProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// PlanToolCalls asks the model to pick tools natively and returns the calls
// in the order the model issued them.
func (p *OpenAIProvider) PlanToolCalls(ctx context.Context, prompt string, tools []domain.ToolSpec) ([]domain.ToolCall, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		Tools:      convertTools(tools),
		ToolChoice: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	return convertToolCalls(resp.Choices[0].Message.ToolCalls), nil
}

func convertTools(tools []domain.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return result
}

func convertToolCalls(calls []openai.ToolCall) []domain.ToolCall {
	result := make([]domain.ToolCall, 0, len(calls))
	for _, tc := range calls {
		result = append(result, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result
}

// ListModels returns the model ids the endpoint advertises.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models failed: %w", err)
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.ID)
	}
	return names, nil
}

func (p *OpenAIProvider) Model() string { return p.model }
