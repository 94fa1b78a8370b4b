package context

import (
	"context"
	"log/slog"
	"time"

	"github.com/wowyuarm/nexus/internal/bus"
	"github.com/wowyuarm/nexus/internal/busmodel"
)

// HistoryReader is the read side of Persistence the builder needs.
type HistoryReader interface {
	GetHistory(ctx context.Context, ownerKey string, limit int) []busmodel.Message
}

// ToolCatalog is the read side of the tool registry the builder needs.
type ToolCatalog interface {
	Snapshot() []busmodel.ToolSpec
}

// Builder assembles the five-message prompt sequence on
// context.build.request and publishes context.build.response.
type Builder struct {
	history      HistoryReader
	tools        ToolCatalog
	historyLimit int
	logger       *slog.Logger
	b            *bus.Bus
}

// NewBuilder wires a Builder. historyLimit is memory.history_context_size.
func NewBuilder(history HistoryReader, tools ToolCatalog, historyLimit int, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Builder{history: history, tools: tools, historyLimit: historyLimit, logger: logger}
}

// Start registers this builder's handler on b and remembers b so it can
// publish the response.
func (c *Builder) Start(b *bus.Bus) {
	c.b = b
	b.Subscribe(busmodel.TopicContextBuildRequest, c.handleRequest)
}

func (c *Builder) handleRequest(ctx context.Context, msg busmodel.Message) {
	run, ok := msg.AsRun()
	if !ok || run == nil {
		c.publishError(msg)
		return
	}

	messages, tools, err := c.build(ctx, run)
	if err != nil {
		c.logger.Error("context build failed", "run_id", run.ID, "error", err)
		c.publishError(msg)
		return
	}

	resp := busmodel.NewMessage(run.ID, run.OwnerKey, busmodel.RoleSystem, map[string]any{
		"status":   "success",
		"messages": messages,
		"tools":    tools,
	})
	c.b.Publish(busmodel.TopicContextBuildResp, resp)
}

func (c *Builder) publishError(msg busmodel.Message) {
	resp := busmodel.Message{
		ID: busmodel.NewMessageID(), RunID: msg.RunID, OwnerKey: msg.OwnerKey, Role: busmodel.RoleSystem,
		Content: map[string]any{"status": "error", "messages": []any{}, "tools": []any{}},
	}
	c.b.Publish(busmodel.TopicContextBuildResp, resp)
}

// PromptMessage is one entry of the five-message sequence handed to the
// LLM Service.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Builder) build(ctx context.Context, run *busmodel.Run) ([]PromptMessage, []busmodel.ToolSpec, error) {
	currentInput := run.FirstHumanInput()

	clientTimestampUTC, _ := run.Metadata["client_timestamp_utc"].(string)
	clientTimezoneOffset, _ := run.Metadata["client_timezone_offset"].(int)
	userProfile, _ := run.Metadata["user_profile"].(map[string]any)

	history := c.history.GetHistory(ctx, run.OwnerKey, c.historyLimit)
	history = dropCurrentRun(history, run.ID)

	var tools []busmodel.ToolSpec
	if c.tools != nil {
		tools = c.tools.Snapshot()
	}

	var createdAt *time.Time
	if userProfile != nil {
		if ca, ok := userProfile["created_at"].(time.Time); ok {
			createdAt = &ca
		}
	}

	messages := []PromptMessage{
		{Role: "system", Content: coreIdentity},
		{Role: "user", Content: formatCapabilities(tools)},
		{Role: "user", Content: formatSharedMemory(history, c.historyLimit)},
		{Role: "user", Content: formatFriendsInfo(userProfile, createdAt)},
		{Role: "user", Content: formatMoment(clientTimestampUTC, clientTimezoneOffset, currentInput)},
	}
	return messages, tools, nil
}

func dropCurrentRun(history []busmodel.Message, runID string) []busmodel.Message {
	out := make([]busmodel.Message, 0, len(history))
	for _, m := range history {
		if m.RunID == runID {
			continue
		}
		out = append(out, m)
	}
	return out
}
