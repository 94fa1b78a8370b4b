package persistence

import (
	"context"
	"log/slog"

	"github.com/wowyuarm/nexus/internal/bus"
	"github.com/wowyuarm/nexus/internal/busmodel"
)

// Service subscribes to the bus and writes human/AI/tool turns to the
// store, applying the filtering rules that decide what is worth
// persisting at all.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService wires a persistence Service against store. Call Start to
// subscribe its handlers before the bus's Run loop begins.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Start registers this service's handlers on b.
func (s *Service) Start(b *bus.Bus) {
	b.Subscribe(busmodel.TopicContextBuildRequest, s.handleContextBuildRequest)
	b.Subscribe(busmodel.TopicLLMResults, s.handleLLMResult)
	b.Subscribe(busmodel.TopicToolsResults, s.handleToolResult)
}

// handleContextBuildRequest captures the human utterance. This topic is
// used rather than runs.new because only validated members' runs reach
// the context-build stage.
func (s *Service) handleContextBuildRequest(ctx context.Context, msg busmodel.Message) {
	run, ok := msg.AsRun()
	if !ok || run == nil {
		return
	}
	input := run.FirstHumanInput()
	if input == "" {
		return
	}
	human := busmodel.NewMessage(run.ID, run.OwnerKey, busmodel.RoleHuman, input)
	s.persist(ctx, human)
}

// handleLLMResult persists AI decisions. Streaming chunks (role=SYSTEM)
// are skipped; so are empty-content results with no tool calls.
func (s *Service) handleLLMResult(ctx context.Context, msg busmodel.Message) {
	if msg.Role == busmodel.RoleSystem {
		return
	}
	content, _ := msg.AsMap()
	text, _ := content["content"].(string)
	toolCalls, hasToolCalls := content["tool_calls"]
	if text == "" && (!hasToolCalls || isEmptyToolCalls(toolCalls)) {
		return
	}

	out := busmodel.NewMessage(msg.RunID, msg.OwnerKey, busmodel.RoleAI, text)
	out.Metadata["tool_calls"] = toolCalls
	out.Metadata["has_tool_calls"] = hasToolCalls && !isEmptyToolCalls(toolCalls)
	s.persist(ctx, out)
}

// handleToolResult persists tool outputs, skipping empty results.
func (s *Service) handleToolResult(ctx context.Context, msg busmodel.Message) {
	content, ok := msg.AsMap()
	if !ok {
		return
	}
	result, _ := content["result"].(string)
	if result == "" {
		return
	}
	out := busmodel.NewMessage(msg.RunID, msg.OwnerKey, busmodel.RoleTool, result)
	out.Metadata["tool_name"], _ = content["tool_name"].(string)
	out.Metadata["status"], _ = content["status"].(string)
	out.Metadata["execution_success"] = content["status"] == "success"
	out.Metadata["call_id"], _ = content["call_id"].(string)
	s.persist(ctx, out)
}

func (s *Service) persist(ctx context.Context, msg busmodel.Message) {
	if err := s.store.Append(ctx, msg); err != nil {
		s.logger.Error("persistence write failed", "error", err, "run_id", msg.RunID)
	}
}

func isEmptyToolCalls(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []busmodel.ToolCall:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// GetHistory returns the most recent N messages for owner, newest-first.
// Failures are logged and return an empty slice, never an error — the
// context builder must always be able to proceed.
func (s *Service) GetHistory(ctx context.Context, ownerKey string, limit int) []busmodel.Message {
	history, err := s.store.History(ctx, ownerKey, limit)
	if err != nil {
		s.logger.Error("persistence read failed", "error", err, "owner_key", ownerKey)
		return nil
	}
	return history
}
