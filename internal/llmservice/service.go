package llmservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wowyuarm/nexus/internal/bus"
	"github.com/wowyuarm/nexus/internal/busmodel"
)

// Service subscribes to llm.requests, resolves a provider, and
// publishes streaming text_chunk ui.events plus a final llm.results.
type Service struct {
	pool          *Pool
	defaultModel  string
	logger        *slog.Logger
	b             *bus.Bus
}

// NewService wires a Service over pool. defaultModel is used when a
// request carries no model override.
func NewService(pool *Pool, defaultModel string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, defaultModel: defaultModel, logger: logger}
}

// Start registers this service's handler on b.
func (s *Service) Start(b *bus.Bus) {
	s.b = b
	b.Subscribe(busmodel.TopicLLMRequests, s.handleRequest)
}

func (s *Service) handleRequest(ctx context.Context, msg busmodel.Message) {
	payload, ok := msg.AsMap()
	if !ok {
		s.publishError(msg, fmt.Errorf("malformed llm.requests payload"))
		return
	}

	req, providerName := s.buildRequest(payload)
	provider, ok := s.pool.Get(providerName)
	if !ok {
		s.publishError(msg, fmt.Errorf("no provider registered for %q", providerName))
		return
	}

	var chunks []string
	onChunk := func(delta string) {
		chunks = append(chunks, delta)
		if s.b != nil {
			s.b.Publish(busmodel.TopicUIEvents, busmodel.NewMessage(msg.RunID, msg.OwnerKey, busmodel.RoleSystem, map[string]any{
				"event":   "text_chunk",
				"run_id":  msg.RunID,
				"payload": map[string]any{"chunk": delta, "is_final": false},
			}))
		}
	}

	result, err := provider.Complete(ctx, req, onChunk)
	if err != nil {
		s.logger.Error("llm provider error", "run_id", msg.RunID, "provider", providerName, "error", err)
		out := busmodel.NewMessage(msg.RunID, msg.OwnerKey, busmodel.RoleAI, map[string]any{
			"content":    "Error processing LLM request: " + err.Error(),
			"tool_calls": nil,
		})
		s.b.Publish(busmodel.TopicLLMResults, out)
		return
	}

	var toolCalls any
	if len(result.ToolCalls) > 0 {
		toolCalls = result.ToolCalls
	}
	out := busmodel.NewMessage(msg.RunID, msg.OwnerKey, busmodel.RoleAI, map[string]any{
		"content":    result.Content,
		"tool_calls": toolCalls,
	})
	s.b.Publish(busmodel.TopicLLMResults, out)
}

func (s *Service) publishError(msg busmodel.Message, err error) {
	out := busmodel.NewMessage(msg.RunID, msg.OwnerKey, busmodel.RoleAI, map[string]any{
		"content":    "Error processing LLM request: " + err.Error(),
		"tool_calls": nil,
	})
	s.b.Publish(busmodel.TopicLLMResults, out)
}

func (s *Service) buildRequest(payload map[string]any) (CompletionRequest, string) {
	req := CompletionRequest{Model: s.defaultModel}
	providerName := s.defaultModel

	if rawMessages, ok := payload["messages"].([]any); ok {
		for _, rm := range rawMessages {
			if m, ok := rm.(map[string]any); ok {
				role, _ := m["role"].(string)
				content, _ := m["content"].(string)
				req.Messages = append(req.Messages, ChatMessage{Role: role, Content: content})
			}
		}
	}
	if tools, ok := payload["tools"].([]busmodel.ToolSpec); ok {
		req.Tools = tools
	}
	if model, ok := payload["model"].(string); ok && model != "" {
		req.Model = model
		providerName = model
	}
	if provider, ok := payload["provider"].(string); ok && provider != "" {
		providerName = provider
	}
	if stream, ok := payload["stream"].(bool); ok {
		req.Stream = stream
	}
	return req, strings.TrimSpace(providerName)
}
