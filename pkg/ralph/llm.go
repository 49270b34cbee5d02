package ralph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/ralph/pkg/llm"
)

// Model is the narrow facade the loop needs from an LLM backend: one
// request/response round trip returning a joined text response and the
// ordered tool calls the model asked to run.
type Model interface {
	Complete(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// ModelRequest is one turn of the inner tool-use loop.
type ModelRequest struct {
	Model       string
	MaxTokens   int
	Temperature float64
	System      string
	Messages    []llm.Message
	Tools       []ToolSchema
}

// ModelResponse is the model's reply for one turn.
type ModelResponse struct {
	Text       string
	ToolCalls  []RequestedTool
	StopReason string // "tool_use" | "end_turn" | other
	Usage      llm.TokenUsage
}

// RequestedTool is one tool_use block the model emitted.
type RequestedTool struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ProviderModel adapts a pkg/llm.Provider (the facade implementation wired
// per task's configured provider) to the narrower Model interface the loop
// consumes.
type ProviderModel struct {
	provider llm.Provider
}

// NewProviderModel wraps provider as a Model.
func NewProviderModel(provider llm.Provider) *ProviderModel {
	return &ProviderModel{provider: provider}
}

// Complete issues one completion request and normalizes the reply.
func (m *ProviderModel) Complete(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	tools := make([]llm.Tool, len(req.Tools))
	for i, t := range req.Tools {
		tools[i] = llm.Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}

	resp, err := m.provider.Complete(ctx, &llm.CompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Tools:       tools,
	})
	if err != nil {
		return ModelResponse{}, fmt.Errorf("model completion: %w", err)
	}

	out := ModelResponse{
		Text:       resp.Content,
		StopReason: resp.FinishReason,
		Usage:      resp.Usage,
	}
	for _, tc := range resp.ToolCalls {
		var args map[string]any
		if tc.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Arguments), &args)
		}
		if args == nil {
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, RequestedTool{ID: tc.ID, Name: tc.Name, Arguments: args})
	}
	return out, nil
}

// NewModelForProvider constructs the configured provider's facade and wraps
// it as a Model. apiKey is read by the caller from the environment per
// provider (ANTHROPIC_API_KEY, GEMINI_API_KEY); an empty key still
// constructs the client; calls will fail with an auth error at request
// time, matching how the underlying HTTP clients behave.
func NewModelForProvider(providerName, apiKey string) (Model, error) {
	switch providerName {
	case "", "anthropic":
		return NewProviderModel(llm.NewAnthropicProvider(apiKey)), nil
	case "gemini":
		return NewGeminiModel(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", providerName)
	}
}
