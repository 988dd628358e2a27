package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
)

var _ ports.Backend = (*OllamaProvider)(nil)

// OllamaProvider implements the backend for a local Ollama instance.
// Ollama's generate API has no tool calling, so plans are requested as JSON.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:latest"
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (p *OllamaProvider) generate(ctx context.Context, prompt, format string) (string, error) {
	jsonData, err := json.Marshal(generateRequest{
		Model:  p.model,
		Prompt: prompt,
		Stream: false,
		Format: format,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return genResp.Response, nil
}

// GenerateText runs one non-streaming completion with the configured model.
func (p *OllamaProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	return p.generate(ctx, prompt, "")
}

type plannedCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type plannedCalls struct {
	ToolCalls []plannedCall `json:"tool_calls"`
}

// PlanToolCalls describes the tools in the prompt and asks for a JSON object
// {"tool_calls":[{"name":...,"arguments":{...}}]}.
func (p *OllamaProvider) PlanToolCalls(ctx context.Context, prompt string, tools []domain.ToolSpec) ([]domain.ToolCall, error) {
	out, err := p.generate(ctx, planPrompt(prompt, tools), "json")
	if err != nil {
		return nil, err
	}
	return parsePlan(out)
}

func planPrompt(prompt string, tools []domain.ToolSpec) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nAvailable tools:\n")
	for _, t := range tools {
		params, _ := json.Marshal(t.Parameters)
		fmt.Fprintf(&b, "- %s: %s Parameters: %s\n", t.Name, t.Description, params)
	}
	b.WriteString(`
Answer with a single JSON object and nothing else:
{"tool_calls":[{"name":"<tool name>","arguments":{...}}]}
Use an empty list when no tool is needed.`)
	return b.String()
}

func parsePlan(raw string) ([]domain.ToolCall, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var plan plannedCalls
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPlan, err)
	}

	calls := make([]domain.ToolCall, 0, len(plan.ToolCalls))
	for i, c := range plan.ToolCalls {
		args := string(c.Arguments)
		if args == "" || args == "null" {
			args = "{}"
		}
		calls = append(calls, domain.ToolCall{
			ID:        fmt.Sprintf("call_%d", i+1),
			Name:      c.Name,
			Arguments: args,
		})
	}
	return calls, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the models installed on the Ollama instance.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama not reachable at %s: %w", p.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (p *OllamaProvider) Model() string { return p.model }
