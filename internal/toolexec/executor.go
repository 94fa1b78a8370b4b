package toolexec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wowyuarm/nexus/internal/bus"
	"github.com/wowyuarm/nexus/internal/busmodel"
)

// Executor subscribes to tools.requests and publishes tools.results.
// Exactly one tool invocation happens per request; panics inside a tool
// implementation are recovered and wrapped as an error result, matching
// the "never raise to bus" contract.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
	b        *bus.Bus
}

// NewExecutor wires an Executor over registry.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, logger: logger}
}

// Start registers this executor's handler on b.
func (e *Executor) Start(b *bus.Bus) {
	e.b = b
	b.Subscribe(busmodel.TopicToolsRequests, e.handleRequest)
}

func (e *Executor) handleRequest(ctx context.Context, msg busmodel.Message) {
	content, ok := msg.AsMap()
	if !ok {
		e.publish(msg, "error", "malformed tool request", "unknown", "")
		return
	}
	name, _ := content["name"].(string)
	callID, _ := content["call_id"].(string)
	args, _ := content["args"].(map[string]any)

	if name == "" || content["args"] == nil {
		e.publish(msg, "error", "malformed tool request", "unknown", callID)
		return
	}

	reg, ok := e.registry.Get(name)
	if !ok {
		e.publish(msg, "error", fmt.Sprintf("Tool '%s' not found in registry", name), name, callID)
		return
	}

	result := e.invoke(ctx, reg, args)
	if result.err != nil {
		e.publish(msg, "error", result.err.Error(), name, callID)
		return
	}
	e.publishSuccess(msg, result.value, name, callID)
}

type invokeResult struct {
	value any
	err   error
}

// invoke runs a tool's Func, recovering a panic into an error so a
// misbehaving tool implementation can never crash the bus handler.
func (e *Executor) invoke(ctx context.Context, reg Registration, args map[string]any) (result invokeResult) {
	defer func() {
		if r := recover(); r != nil {
			result = invokeResult{err: fmt.Errorf("tool panicked: %v", r)}
		}
	}()
	value, err := reg.Func(ctx, args)
	return invokeResult{value: value, err: err}
}

func (e *Executor) publish(msg busmodel.Message, status, result, toolName, callID string) {
	out := busmodel.NewMessage(msg.RunID, msg.OwnerKey, busmodel.RoleTool, map[string]any{
		"status":    status,
		"result":    result,
		"tool_name": toolName,
		"call_id":   callID,
	})
	if e.b != nil {
		e.b.Publish(busmodel.TopicToolsResults, out)
	}
}

func (e *Executor) publishSuccess(msg busmodel.Message, value any, toolName, callID string) {
	result := fmt.Sprintf("%v", value)
	if s, ok := value.(string); ok {
		result = s
	}
	out := busmodel.NewMessage(msg.RunID, msg.OwnerKey, busmodel.RoleTool, map[string]any{
		"status":    "success",
		"result":    result,
		"tool_name": toolName,
		"call_id":   callID,
	})
	if e.b != nil {
		e.b.Publish(busmodel.TopicToolsResults, out)
	}
}
