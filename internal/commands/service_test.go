package commands

import (
	"context"
	"testing"
	"time"

	"github.com/wowyuarm/nexus/internal/bus"
	"github.com/wowyuarm/nexus/internal/busmodel"
)

func newTestBus() (*bus.Bus, context.CancelFunc) {
	b := bus.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	b.Run(ctx)
	return b, cancel
}

func TestServiceKnownCommandPublishesResult(t *testing.T) {
	svc := NewService(fakeIdentityLookup{}, nil)
	b, cancel := newTestBus()
	defer cancel()
	svc.Start(b)

	results := make(chan busmodel.Message, 1)
	b.Subscribe(busmodel.TopicCommandResult, func(ctx context.Context, msg busmodel.Message) { results <- msg })

	msg := busmodel.NewMessage("", "0xABC", busmodel.RoleCommand, map[string]any{
		"name": "whoami", "args": "",
	})
	b.Publish(busmodel.TopicSystemCommand, msg)

	select {
	case out := <-results:
		content, _ := out.AsMap()
		if out.OwnerKey != "0xABC" {
			t.Errorf("owner_key = %v, want 0xABC", out.OwnerKey)
		}
		text, _ := content["text"].(string)
		if text == "" {
			t.Error("expected non-empty result text")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command.result")
	}
}

func TestServiceUnknownCommandGetsExactWording(t *testing.T) {
	svc := NewService(nil, nil)
	b, cancel := newTestBus()
	defer cancel()
	svc.Start(b)

	results := make(chan busmodel.Message, 1)
	b.Subscribe(busmodel.TopicCommandResult, func(ctx context.Context, msg busmodel.Message) { results <- msg })

	msg := busmodel.NewMessage("", "0xABC", busmodel.RoleCommand, map[string]any{
		"name": "nonexistent", "args": "",
	})
	b.Publish(busmodel.TopicSystemCommand, msg)

	select {
	case out := <-results:
		content, _ := out.AsMap()
		want := "Unknown command: nonexistent. Type '/help' for available commands."
		if content["text"] != want {
			t.Errorf("text = %q, want %q", content["text"], want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command.result")
	}
}

func TestServiceListCommands(t *testing.T) {
	svc := NewService(fakeIdentityLookup{}, nil)
	list := svc.ListCommands()
	if len(list) == 0 {
		t.Fatal("expected at least one registered command")
	}
	found := false
	for _, c := range list {
		if c.Name == "help" {
			found = true
		}
	}
	if !found {
		t.Error("expected help command in ListCommands output")
	}
}
