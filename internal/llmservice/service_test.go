package llmservice

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wowyuarm/nexus/internal/bus"
	"github.com/wowyuarm/nexus/internal/busmodel"
)

type fakeProvider struct {
	name    string
	chunks  []string
	result  CompletionResult
	err     error
}

func (f fakeProvider) Name() string       { return f.name }
func (f fakeProvider) Models() []string    { return nil }
func (f fakeProvider) SupportsTools() bool { return true }
func (f fakeProvider) Complete(ctx context.Context, req CompletionRequest, onChunk StreamFunc) (CompletionResult, error) {
	if f.err != nil {
		return CompletionResult{}, f.err
	}
	for _, c := range f.chunks {
		onChunk(c)
	}
	return f.result, nil
}

func TestServicePublishesFinalResult(t *testing.T) {
	pool := NewPool()
	pool.Register(fakeProvider{name: "stub", chunks: []string{"It's "}, result: CompletionResult{Content: "It's sunny."}})
	svc := NewService(pool, "stub", nil)

	b := bus.New(nil)
	svc.Start(b)

	results := make(chan busmodel.Message, 1)
	events := make(chan busmodel.Message, 5)
	b.Subscribe(busmodel.TopicLLMResults, func(ctx context.Context, msg busmodel.Message) { results <- msg })
	b.Subscribe(busmodel.TopicUIEvents, func(ctx context.Context, msg busmodel.Message) { events <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Run(ctx)

	req := busmodel.NewMessage("run_1", "0xABC", busmodel.RoleSystem, map[string]any{
		"provider": "stub",
		"messages": []any{map[string]any{"role": "user", "content": "weather?"}},
	})
	b.Publish(busmodel.TopicLLMRequests, req)

	select {
	case msg := <-results:
		content, _ := msg.AsMap()
		if content["content"] != "It's sunny." {
			t.Fatalf("unexpected result: %+v", content)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for llm.results")
	}
}

func TestServiceProviderErrorProducesTerminalAIMessage(t *testing.T) {
	pool := NewPool()
	pool.Register(fakeProvider{name: "stub", err: errors.New("connection refused")})
	svc := NewService(pool, "stub", nil)

	b := bus.New(nil)
	svc.Start(b)
	results := make(chan busmodel.Message, 1)
	b.Subscribe(busmodel.TopicLLMResults, func(ctx context.Context, msg busmodel.Message) { results <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Run(ctx)

	b.Publish(busmodel.TopicLLMRequests, busmodel.NewMessage("run_1", "0xABC", busmodel.RoleSystem, map[string]any{"provider": "stub"}))

	select {
	case msg := <-results:
		content, _ := msg.AsMap()
		text, _ := content["content"].(string)
		if !strings.HasPrefix(text, "Error processing LLM request:") {
			t.Fatalf("expected terminal error message, got %+v", content)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for llm.results")
	}
}

func TestNormalizeToolCalls(t *testing.T) {
	tc := NormalizeToolCalls("c1", "web_search", map[string]any{"query": "weather"})
	if tc.Type != "function" || tc.Function.Name != "web_search" {
		t.Fatalf("unexpected normalized call: %+v", tc)
	}
	if tc.Function.Arguments == "" {
		t.Fatal("expected arguments to be serialized")
	}
}
