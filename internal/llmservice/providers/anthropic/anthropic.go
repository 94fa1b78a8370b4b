// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// llmservice.Provider interface.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/wowyuarm/nexus/internal/busmodel"
	"github.com/wowyuarm/nexus/internal/llmservice"
)

const defaultMaxTokens = 4096

// Provider wraps the Anthropic Messages API.
type Provider struct {
	client       anthropic.Client
	defaultModel string
	models       []string
}

// New builds a Provider authenticated with apiKey.
func New(apiKey, defaultModel string, models []string) *Provider {
	return &Provider{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
		models:       models,
	}
}

func (p *Provider) Name() string       { return "anthropic" }
func (p *Provider) Models() []string    { return p.models }
func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) Complete(ctx context.Context, req llmservice.CompletionRequest, onChunk llmservice.StreamFunc) (llmservice.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  convertMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	if !req.Stream {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return llmservice.CompletionResult{}, fmt.Errorf("anthropic completion: %w", err)
		}
		return toResult(msg), nil
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	var content string
	var toolCalls []busmodel.ToolCall
	var pendingName, pendingID, pendingArgs string

	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu := variant.ContentBlock.AsToolUse(); tu.Name != "" {
				pendingName, pendingID = tu.Name, tu.ID
			}
		case anthropic.ContentBlockDeltaEvent:
			if delta := variant.Delta.AsTextDelta(); delta.Text != "" {
				content += delta.Text
				if onChunk != nil {
					onChunk(delta.Text)
				}
			}
			if delta := variant.Delta.AsInputJSONDelta(); delta.PartialJSON != "" {
				pendingArgs += delta.PartialJSON
			}
		case anthropic.ContentBlockStopEvent:
			if pendingName != "" {
				toolCalls = append(toolCalls, llmservice.NormalizeToolCalls(pendingID, pendingName, pendingArgs))
				pendingName, pendingID, pendingArgs = "", "", ""
			}
		}
	}
	if err := stream.Err(); err != nil {
		return llmservice.CompletionResult{}, fmt.Errorf("anthropic stream: %w", err)
	}

	return llmservice.CompletionResult{Content: content, ToolCalls: toolCalls}, nil
}

func convertMessages(messages []llmservice.ChatMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func convertTools(tools []busmodel.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := llmservice.ToolSpecsToSchema(t)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
				},
			},
		})
	}
	return out
}

func toResult(msg *anthropic.Message) llmservice.CompletionResult {
	var content string
	var toolCalls []busmodel.ToolCall
	for _, block := range msg.Content {
		if text := block.AsText(); text.Text != "" {
			content += text.Text
		}
		if tu := block.AsToolUse(); tu.Name != "" {
			toolCalls = append(toolCalls, llmservice.NormalizeToolCalls(tu.ID, tu.Name, tu.Input))
		}
	}
	return llmservice.CompletionResult{Content: content, ToolCalls: toolCalls}
}
