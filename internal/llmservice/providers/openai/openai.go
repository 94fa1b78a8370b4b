// Package openai adapts github.com/sashabaranov/go-openai to the
// llmservice.Provider interface. It also serves as the OpenAI-compatible
// adapter for DeepSeek and OpenRouter, which speak the same wire
// protocol behind a different base URL.
package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wowyuarm/nexus/internal/busmodel"
	"github.com/wowyuarm/nexus/internal/llmservice"
)

// Provider wraps an OpenAI-compatible client.
type Provider struct {
	name   string
	client *openai.Client
	models []string
}

// New builds a Provider named name, talking to baseURL (empty means the
// default OpenAI API) with apiKey.
func New(name, apiKey, baseURL string, models []string) *Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Provider{name: name, client: openai.NewClientWithConfig(cfg), models: models}
}

func (p *Provider) Name() string       { return p.name }
func (p *Provider) Models() []string    { return p.models }
func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) Complete(ctx context.Context, req llmservice.CompletionRequest, onChunk llmservice.StreamFunc) (llmservice.CompletionResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	tools := toOpenAITools(req.Tools)

	if !req.Stream {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       req.Model,
			Messages:    messages,
			Tools:       tools,
			Temperature: float32(req.Temperature),
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			return llmservice.CompletionResult{}, fmt.Errorf("openai completion: %w", err)
		}
		return toResult(resp.Choices), nil
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Tools:       tools,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return llmservice.CompletionResult{}, fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	var content string
	var toolCalls []busmodel.ToolCall
	for {
		chunk, err := stream.Recv()
		if err != nil {
			break
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				content += choice.Delta.Content
				if onChunk != nil {
					onChunk(choice.Delta.Content)
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := len(toolCalls)
				if tc.Index != nil {
					idx = *tc.Index
				}
				for len(toolCalls) <= idx {
					toolCalls = append(toolCalls, llmservice.NormalizeToolCalls("", "", ""))
				}
				if tc.ID != "" {
					toolCalls[idx].ID = tc.ID
				}
				if tc.Function.Name != "" {
					toolCalls[idx].Function.Name = tc.Function.Name
				}
				toolCalls[idx].Function.Arguments += tc.Function.Arguments
			}
		}
	}
	return llmservice.CompletionResult{Content: content, ToolCalls: toolCalls}, nil
}

func toOpenAITools(tools []busmodel.ToolSpec) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  llmservice.ToolSpecsToSchema(t),
			},
		})
	}
	return out
}

func toResult(choices []openai.ChatCompletionChoice) llmservice.CompletionResult {
	if len(choices) == 0 {
		return llmservice.CompletionResult{}
	}
	msg := choices[0].Message
	var toolCalls []busmodel.ToolCall
	for _, tc := range msg.ToolCalls {
		toolCalls = append(toolCalls, llmservice.NormalizeToolCalls(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return llmservice.CompletionResult{Content: msg.Content, ToolCalls: toolCalls}
}
