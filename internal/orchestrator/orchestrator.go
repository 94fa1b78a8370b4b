// Package orchestrator is the central state machine: it owns the live
// run table and drives each run through context-build, the LLM
// decision, the tool barrier, and back, until a terminal ui.events
// run_finished is published.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	llmcontext "github.com/wowyuarm/nexus/internal/context"

	"github.com/wowyuarm/nexus/internal/bus"
	"github.com/wowyuarm/nexus/internal/busmodel"
	"github.com/wowyuarm/nexus/internal/identity"
	"github.com/wowyuarm/nexus/internal/llmservice"
)

// IdentityResolver is the subset of identity.Service the orchestrator
// needs to admit a run and build its user_profile.
type IdentityResolver interface {
	GetOrCreateIdentity(ctx context.Context, key string) identity.GetOrCreateResult
	GetIdentity(ctx context.Context, key string) *identity.Record
	GetEffectiveProfile(ctx context.Context, key string, defaults identity.DefaultsSource) identity.EffectiveProfile
}

// ProviderResolver maps a model name to the provider that serves it,
// following the config surface's llm.catalog routing.
type ProviderResolver func(model string) (providerName string, ok bool)

// Orchestrator sequences a run through its lifecycle. Per-run state
// mutation is serialized by activeRuns' lock table; the bus schedules
// handlers concurrently across runs.
type Orchestrator struct {
	runs              *activeRuns
	identity          IdentityResolver
	defaults          identity.DefaultsSource
	maxToolIterations int
	resolveProvider   ProviderResolver
	logger            *slog.Logger
	b                 *bus.Bus
}

// New wires an Orchestrator. maxToolIterations is system.max_tool_iterations.
func New(identitySvc IdentityResolver, defaults identity.DefaultsSource, maxToolIterations int, resolveProvider ProviderResolver, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if maxToolIterations <= 0 {
		maxToolIterations = 5
	}
	if resolveProvider == nil {
		resolveProvider = func(model string) (string, bool) { return model, model != "" }
	}
	return &Orchestrator{
		runs:              newActiveRuns(),
		identity:          identitySvc,
		defaults:          defaults,
		maxToolIterations: maxToolIterations,
		resolveProvider:   resolveProvider,
		logger:            logger,
	}
}

// Start registers this orchestrator's handlers on b.
func (o *Orchestrator) Start(b *bus.Bus) {
	o.b = b
	b.Subscribe(busmodel.TopicRunsNew, o.handleRunsNew)
	b.Subscribe(busmodel.TopicContextBuildResp, o.handleContextBuildResponse)
	b.Subscribe(busmodel.TopicLLMResults, o.handleLLMResults)
	b.Subscribe(busmodel.TopicToolsResults, o.handleToolsResults)
}

// handleRunsNew admits a run: resolves (creating if absent) the
// owner's identity, injects the merged user_profile into the run, and
// kicks off context building.
func (o *Orchestrator) handleRunsNew(ctx context.Context, msg busmodel.Message) {
	run, ok := msg.AsRun()
	if !ok || run == nil {
		o.logger.Error("runs.new: payload is not a *Run")
		return
	}

	unlock := o.runs.lockRun(run.ID)
	defer unlock()

	o.identity.GetOrCreateIdentity(ctx, run.OwnerKey)
	profile := o.identity.GetEffectiveProfile(ctx, run.OwnerKey, o.defaults)
	record := o.identity.GetIdentity(ctx, run.OwnerKey)

	if run.Metadata == nil {
		run.Metadata = map[string]any{}
	}
	userProfile := map[string]any{
		"effective_config": profile.EffectiveConfig,
		"config_overrides": profile.UserOverrides["config"],
		"prompt_overrides": profile.UserOverrides["prompts"],
	}
	if record != nil {
		userProfile["created_at"] = record.CreatedAt
	}
	run.Metadata["user_profile"] = userProfile
	run.Status = busmodel.StatusBuildingContext
	o.runs.put(run)

	o.publishUIEvent(run, "run_started", map[string]any{"user_input": run.FirstHumanInput()})
	o.b.Publish(busmodel.TopicContextBuildRequest, busmodel.NewMessage(run.ID, run.OwnerKey, busmodel.RoleSystem, run))
}

// handleContextBuildResponse advances a run out of BUILDING_CONTEXT,
// either into the first LLM request or into a terminal failure.
func (o *Orchestrator) handleContextBuildResponse(ctx context.Context, msg busmodel.Message) {
	run := o.runs.get(msg.RunID)
	if run == nil {
		return
	}
	unlock := o.runs.lockRun(run.ID)
	defer unlock()
	if run.Status != busmodel.StatusBuildingContext {
		return
	}

	content, ok := msg.AsMap()
	if !ok {
		o.fail(run, "context build returned a malformed response")
		return
	}

	if status, _ := content["status"].(string); status != "success" {
		o.publishUIEvent(run, "error", map[string]any{"message": "Failed to build context for this run."})
		o.publishUIEvent(run, "run_finished", map[string]any{"status": "failed"})
		o.finish(run, busmodel.StatusFailed)
		return
	}

	promptMessages, _ := content["messages"].([]llmcontext.PromptMessage)
	tools, _ := content["tools"].([]busmodel.ToolSpec)
	run.Tools = tools

	chatMessages := make([]llmservice.ChatMessage, 0, len(promptMessages))
	for _, m := range promptMessages {
		chatMessages = append(chatMessages, llmservice.ChatMessage{Role: m.Role, Content: m.Content})
	}
	run.Metadata["prompt_messages"] = chatMessages

	run.Status = busmodel.StatusAwaitingLLMDecision
	o.requestLLM(run, chatMessages)
}

// handleLLMResults is the agentic loop's core decision point: finish,
// dispatch tool calls, or hit the iteration cap.
func (o *Orchestrator) handleLLMResults(ctx context.Context, msg busmodel.Message) {
	run := o.runs.get(msg.RunID)
	if run == nil {
		return
	}
	unlock := o.runs.lockRun(run.ID)
	defer unlock()

	if msg.Role == busmodel.RoleSystem {
		// Streaming passthrough; never a final AI decision.
		o.b.Publish(busmodel.TopicUIEvents, msg)
		return
	}
	if run.Status != busmodel.StatusAwaitingLLMDecision {
		return
	}

	content, ok := msg.AsMap()
	if !ok {
		o.fail(run, "LLM service returned a malformed response")
		return
	}
	text, _ := content["content"].(string)
	toolCalls := extractToolCalls(content["tool_calls"])

	if len(toolCalls) == 0 {
		run.AppendHistory(busmodel.NewMessage(run.ID, run.OwnerKey, busmodel.RoleAI, text))
		o.publishUIEvent(run, "run_finished", map[string]any{"status": "completed", "content": text})
		o.finish(run, busmodel.StatusCompleted)
		return
	}

	if run.IterationCount >= o.maxToolIterations {
		o.publishUIEvent(run, "error", map[string]any{"message": "Maximum tool iterations exceeded."})
		o.publishUIEvent(run, "run_finished", map[string]any{"status": "timed_out"})
		o.finish(run, busmodel.StatusTimedOut)
		return
	}

	run.AppendHistory(busmodel.NewMessage(run.ID, run.OwnerKey, busmodel.RoleAI, map[string]any{
		"content": text, "tool_calls": toolCalls,
	}))
	run.IterationCount++
	run.SetPendingToolCalls(len(toolCalls))
	run.Status = busmodel.StatusAwaitingToolResult

	prompt, _ := run.Metadata["prompt_messages"].([]llmservice.ChatMessage)
	prompt = append(prompt, llmservice.ChatMessage{Role: "assistant", Content: renderToolCallSummary(text, toolCalls)})
	run.Metadata["prompt_messages"] = prompt

	for _, tc := range toolCalls {
		args := decodeArguments(tc.Function.Arguments)
		o.publishUIEvent(run, "tool_call_started", map[string]any{
			"tool_name": tc.Function.Name, "call_id": tc.ID,
		})
		req := busmodel.NewMessage(run.ID, run.OwnerKey, busmodel.RoleSystem, map[string]any{
			"name": tc.Function.Name, "args": args, "call_id": tc.ID,
		})
		o.b.Publish(busmodel.TopicToolsRequests, req)
	}
}

// handleToolsResults counts down the multi-tool barrier; once every
// outstanding call for a run has reported, the LLM is re-invoked
// exactly once with the extended history.
func (o *Orchestrator) handleToolsResults(ctx context.Context, msg busmodel.Message) {
	run := o.runs.get(msg.RunID)
	if run == nil {
		return
	}
	unlock := o.runs.lockRun(run.ID)
	defer unlock()
	if run.Status != busmodel.StatusAwaitingToolResult {
		return
	}

	content, _ := msg.AsMap()
	toolName, _ := content["tool_name"].(string)
	status, _ := content["status"].(string)
	result, _ := content["result"].(string)
	callID, _ := content["call_id"].(string)

	run.AppendHistory(busmodel.NewMessage(run.ID, run.OwnerKey, busmodel.RoleTool, content))
	o.publishUIEvent(run, "tool_call_finished", map[string]any{
		"tool_name": toolName, "status": status, "call_id": callID,
	})

	prompt, _ := run.Metadata["prompt_messages"].([]llmservice.ChatMessage)
	prompt = append(prompt, llmservice.ChatMessage{Role: "tool", Content: fmt.Sprintf("%s -> %s", toolName, result)})
	run.Metadata["prompt_messages"] = prompt

	pending := run.PendingToolCalls() - 1
	run.SetPendingToolCalls(pending)
	if pending > 0 {
		return
	}

	run.Status = busmodel.StatusAwaitingLLMDecision
	o.requestLLM(run, prompt)
}

// requestLLM publishes llm.requests for run's current prompt, resolving
// the provider from the run's effective config.
func (o *Orchestrator) requestLLM(run *busmodel.Run, messages []llmservice.ChatMessage) {
	model := modelFromProfile(run.Metadata["user_profile"])
	providerName, ok := o.resolveProvider(model)
	if !ok {
		providerName = model
	}

	wireMessages := make([]any, 0, len(messages))
	for _, m := range messages {
		wireMessages = append(wireMessages, map[string]any{"role": m.Role, "content": m.Content})
	}

	req := busmodel.NewMessage(run.ID, run.OwnerKey, busmodel.RoleSystem, map[string]any{
		"messages": wireMessages,
		"tools":    run.Tools,
		"model":    model,
		"provider": providerName,
		"stream":   true,
	})
	o.b.Publish(busmodel.TopicLLMRequests, req)
}

// finish transitions run to a terminal status and removes it from the
// active table, atomically with the transition.
func (o *Orchestrator) finish(run *busmodel.Run, status busmodel.RunStatus) {
	run.Status = status
	o.runs.remove(run.ID)
}

func (o *Orchestrator) fail(run *busmodel.Run, message string) {
	o.publishUIEvent(run, "error", map[string]any{"message": message})
	o.publishUIEvent(run, "run_finished", map[string]any{"status": "failed"})
	o.finish(run, busmodel.StatusFailed)
}

func (o *Orchestrator) publishUIEvent(run *busmodel.Run, event string, payload map[string]any) {
	out := busmodel.NewMessage(run.ID, run.OwnerKey, busmodel.RoleSystem, map[string]any{
		"event":   event,
		"run_id":  run.ID,
		"payload": payload,
	})
	o.b.Publish(busmodel.TopicUIEvents, out)
}

// extractToolCalls normalizes the tool_calls field of an llm.results
// payload, which may arrive as []busmodel.ToolCall (in-process) or nil.
func extractToolCalls(v any) []busmodel.ToolCall {
	switch tc := v.(type) {
	case []busmodel.ToolCall:
		return tc
	case nil:
		return nil
	default:
		return nil
	}
}

// modelFromProfile reads user_profile.effective_config.model, tolerating
// any level of the chain being absent or mistyped.
func modelFromProfile(userProfile any) string {
	profile, ok := userProfile.(map[string]any)
	if !ok {
		return ""
	}
	effConfig, ok := profile["effective_config"].(map[string]any)
	if !ok {
		return ""
	}
	model, _ := effConfig["model"].(string)
	return model
}

func decodeArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

func renderToolCallSummary(text string, calls []busmodel.ToolCall) string {
	summary := text
	for _, c := range calls {
		summary += fmt.Sprintf(" [calls %s]", c.Function.Name)
	}
	return summary
}
