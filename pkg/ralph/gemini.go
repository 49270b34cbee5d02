package ralph

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ternarybob/ralph/pkg/llm"
)

// GeminiModel is the second concrete Model implementation, wired per the
// additive provider config field so a task can route through Gemini's
// function-calling surface instead of Anthropic's tool_use blocks.
type GeminiModel struct {
	client *genai.Client
}

// NewGeminiModel constructs a GeminiModel. A nil client is tolerated at
// construction time; Complete reports the configuration error, matching
// how the Anthropic facade only fails at request time on a bad key.
func NewGeminiModel(apiKey string) *GeminiModel {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return &GeminiModel{}
	}
	return &GeminiModel{client: client}
}

// Complete issues one round trip against the Gemini API, translating our
// tool schema into function declarations and flattening the reply's parts
// into the same ModelResponse shape the Anthropic facade produces.
func (g *GeminiModel) Complete(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	if g.client == nil {
		return ModelResponse{}, fmt.Errorf("gemini: client not configured")
	}

	contents := toGeminiContents(req.Messages)

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toFunctionDeclarations(req.Tools)}}
	}

	model := req.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	result, err := g.client.Models.GenerateContent(timeoutCtx, model, contents, config)
	if err != nil {
		return ModelResponse{}, fmt.Errorf("gemini generate content: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return ModelResponse{}, fmt.Errorf("gemini: empty response")
	}

	resp := ModelResponse{StopReason: "end_turn"}
	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, RequestedTool{
				ID:        part.FunctionCall.Name,
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}
	resp.Text = text.String()
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = "tool_use"
	}
	if result.UsageMetadata != nil {
		resp.Usage = llm.TokenUsage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(result.UsageMetadata.TotalTokenCount),
		}
	}
	return resp, nil
}

func toGeminiContents(messages []llm.Message) []*genai.Content {
	var contents []*genai.Content
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		text := m.Content
		if m.Role == "tool" {
			text = fmt.Sprintf("tool_result(%s): %s", m.ToolCallID, m.ToolResult)
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	return contents
}

func toFunctionDeclarations(tools []ToolSchema) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaFromMap(t.Parameters),
		})
	}
	return decls
}

// schemaFromMap converts our generic JSON-schema map into genai's typed
// Schema for the subset of shapes ToolSchemas() produces (object with
// string-typed property maps).
func schemaFromMap(m map[string]any) *genai.Schema {
	if m == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	props, _ := m["properties"].(map[string]any)
	for name, raw := range props {
		propMap, _ := raw.(map[string]any)
		propType := genai.TypeString
		if t, _ := propMap["type"].(string); t == "integer" {
			propType = genai.TypeInteger
		} else if t == "boolean" {
			propType = genai.TypeBoolean
		}
		schema.Properties[name] = &genai.Schema{Type: propType}
	}
	if req, ok := m["required"].([]string); ok {
		schema.Required = req
	}
	return schema
}
