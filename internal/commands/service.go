package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wowyuarm/nexus/internal/bus"
	"github.com/wowyuarm/nexus/internal/busmodel"
)

// Service subscribes to system.command and publishes command.result,
// mirroring toolexec.Executor's one-topic-in, one-topic-out shape:
// exactly one dispatch per message, panics recovered into an error
// result, never raised to the bus.
type Service struct {
	registry *Registry
	logger   *slog.Logger
	b        *bus.Bus
}

// NewService builds a Service with the builtin commands registered.
// identitySvc may be nil, in which case the /identity command is not
// registered.
func NewService(identitySvc IdentityLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	r := NewRegistry(logger)
	RegisterBuiltins(r, identitySvc)
	return &Service{registry: r, logger: logger}
}

// Registry exposes the underlying registry for callers (e.g. a REST
// handler adapter) that need List/Get beyond the bus dispatch path.
func (s *Service) Registry() *Registry {
	return s.registry
}

// ListCommands implements boundary.CommandRegistry's shape without
// importing the boundary package: cmd/nexusd wires this through a thin
// adapter converting CommandMeta values 1:1.
func (s *Service) ListCommands() []CommandMeta {
	return s.registry.ListCommandMeta()
}

// Start subscribes this service's handler on b.
func (s *Service) Start(b *bus.Bus) {
	s.b = b
	b.Subscribe(busmodel.TopicSystemCommand, s.handle)
}

// handle dispatches one system.command message and publishes exactly
// one command.result in response, keyed by the caller's owner_key so
// boundary.ownerQueues can route it back to the right persistent
// stream. A command name with no registered handler gets the exact
// wording the closed command surface promises callers rather than the
// registry's generic "not found" error.
func (s *Service) handle(ctx context.Context, msg busmodel.Message) {
	content, ok := msg.AsMap()
	if !ok {
		s.publish(msg, Result{Error: "malformed command invocation"})
		return
	}

	name, _ := content["name"].(string)
	name = strings.ToLower(strings.TrimSpace(name))
	args, _ := content["args"].(string)
	rawText, _ := content["raw_text"].(string)
	isAdmin, _ := content["is_admin"].(bool)

	if _, exists := s.registry.Get(name); !exists {
		s.publish(msg, Result{
			Text: fmt.Sprintf("Unknown command: %s. Type '/help' for available commands.", name),
		})
		return
	}

	inv := &Invocation{
		Name:     name,
		Args:     args,
		RawText:  rawText,
		OwnerKey: msg.OwnerKey,
		IsAdmin:  isAdmin,
		Context:  map[string]any{"owner_key": msg.OwnerKey},
	}

	result := s.execute(ctx, inv)
	s.publish(msg, *result)
}

// execute recovers a handler panic into an error Result so one broken
// command can never crash the bus's dispatch goroutine.
func (s *Service) execute(ctx context.Context, inv *Invocation) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("command handler panicked", "name", inv.Name, "panic", r)
			result = &Result{Error: "command failed"}
		}
	}()
	out, err := s.registry.Execute(ctx, inv)
	if err != nil {
		return &Result{Error: err.Error()}
	}
	return out
}

func (s *Service) publish(msg busmodel.Message, result Result) {
	if s.b == nil {
		return
	}
	out := busmodel.NewMessage(msg.RunID, msg.OwnerKey, busmodel.RoleCommand, map[string]any{
		"text":     result.Text,
		"markdown": result.Markdown,
		"private":  result.Private,
		"data":     result.Data,
		"error":    result.Error,
	})
	s.b.Publish(busmodel.TopicCommandResult, out)
}
