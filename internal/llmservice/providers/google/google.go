// Package google adapts google.golang.org/genai to the
// llmservice.Provider interface.
package google

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/wowyuarm/nexus/internal/busmodel"
	"github.com/wowyuarm/nexus/internal/llmservice"
)

// Provider wraps the Gemini API.
type Provider struct {
	client       *genai.Client
	defaultModel string
	models       []string
}

// New builds a Provider authenticated with apiKey against the Gemini
// developer API backend.
func New(ctx context.Context, apiKey, defaultModel string, models []string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google genai client: %w", err)
	}
	return &Provider{client: client, defaultModel: defaultModel, models: models}, nil
}

func (p *Provider) Name() string       { return "google" }
func (p *Provider) Models() []string    { return p.models }
func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) Complete(ctx context.Context, req llmservice.CompletionRequest, onChunk llmservice.StreamFunc) (llmservice.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	contents := convertMessages(req.Messages)
	config := &genai.GenerateContentConfig{}
	if len(req.Tools) > 0 {
		config.Tools = convertTools(req.Tools)
	}

	if !req.Stream {
		resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			return llmservice.CompletionResult{}, fmt.Errorf("google completion: %w", err)
		}
		return toResult(resp), nil
	}

	var content string
	var toolCalls []busmodel.ToolCall
	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			return llmservice.CompletionResult{}, fmt.Errorf("google stream: %w", err)
		}
		result := toResult(resp)
		if result.Content != "" {
			content += result.Content
			if onChunk != nil {
				onChunk(result.Content)
			}
		}
		toolCalls = append(toolCalls, result.ToolCalls...)
	}
	return llmservice.CompletionResult{Content: content, ToolCalls: toolCalls}, nil
}

func convertMessages(messages []llmservice.ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}

func convertTools(tools []busmodel.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		schema := llmservice.ToolSpecsToSchema(t)
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToGenai(schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func schemaToGenai(schema map[string]any) *genai.Schema {
	props := map[string]*genai.Schema{}
	if raw, ok := schema["properties"].(map[string]any); ok {
		for name, v := range raw {
			entry, _ := v.(map[string]any)
			typ, _ := entry["type"].(string)
			desc, _ := entry["description"].(string)
			props[name] = &genai.Schema{Type: genai.Type(typ), Description: desc}
		}
	}
	return &genai.Schema{Type: genai.TypeObject, Properties: props}
}

func toResult(resp *genai.GenerateContentResponse) llmservice.CompletionResult {
	var content string
	var toolCalls []busmodel.ToolCall
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
			if part.FunctionCall != nil {
				toolCalls = append(toolCalls, llmservice.NormalizeToolCalls(part.FunctionCall.Name, part.FunctionCall.Name, part.FunctionCall.Args))
			}
		}
	}
	return llmservice.CompletionResult{Content: content, ToolCalls: toolCalls}
}
