package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/wowyuarm/nexus/internal/busmodel"
)

func TestHandleContextBuildRequestPersistsHumanMessage(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil)

	run := busmodel.NewRun("0xABC", "Hello", "", 0)
	msg := busmodel.NewMessage(run.ID, run.OwnerKey, busmodel.RoleHuman, run)

	svc.handleContextBuildRequest(context.Background(), msg)

	history := svc.GetHistory(context.Background(), "0xABC", 10)
	if len(history) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", len(history))
	}
	if history[0].Role != busmodel.RoleHuman {
		t.Fatalf("expected HUMAN role, got %s", history[0].Role)
	}
}

func TestHandleLLMResultSkipsSystemAndEmpty(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil)

	sysMsg := busmodel.Message{
		ID: "msg_sys", RunID: "run_1", OwnerKey: "0xABC", Role: busmodel.RoleSystem,
		Content: map[string]any{"content": "chunk"}, Timestamp: time.Now(),
	}
	svc.handleLLMResult(context.Background(), sysMsg)

	emptyMsg := busmodel.Message{
		ID: "msg_empty", RunID: "run_1", OwnerKey: "0xABC", Role: busmodel.RoleAI,
		Content: map[string]any{"content": ""}, Timestamp: time.Now(),
	}
	svc.handleLLMResult(context.Background(), emptyMsg)

	if got := svc.GetHistory(context.Background(), "0xABC", 10); len(got) != 0 {
		t.Fatalf("expected nothing persisted, got %d", len(got))
	}

	finalMsg := busmodel.Message{
		ID: "msg_final", RunID: "run_1", OwnerKey: "0xABC", Role: busmodel.RoleAI,
		Content: map[string]any{"content": "Hi there"}, Timestamp: time.Now(),
	}
	svc.handleLLMResult(context.Background(), finalMsg)

	got := svc.GetHistory(context.Background(), "0xABC", 10)
	if len(got) != 1 || got[0].Role != busmodel.RoleAI {
		t.Fatalf("expected 1 AI message persisted, got %+v", got)
	}
}

func TestHandleToolResultSkipsEmpty(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil)

	empty := busmodel.Message{
		ID: "msg_1", RunID: "run_1", OwnerKey: "0xABC", Role: busmodel.RoleTool,
		Content: map[string]any{"result": "", "tool_name": "web_search", "status": "success", "call_id": "c1"},
		Timestamp: time.Now(),
	}
	svc.handleToolResult(context.Background(), empty)
	if got := svc.GetHistory(context.Background(), "0xABC", 10); len(got) != 0 {
		t.Fatalf("expected empty result skipped, got %d", len(got))
	}

	withResult := busmodel.Message{
		ID: "msg_2", RunID: "run_1", OwnerKey: "0xABC", Role: busmodel.RoleTool,
		Content: map[string]any{"result": "sunny", "tool_name": "web_search", "status": "success", "call_id": "c1"},
		Timestamp: time.Now(),
	}
	svc.handleToolResult(context.Background(), withResult)
	got := svc.GetHistory(context.Background(), "0xABC", 10)
	if len(got) != 1 || got[0].Metadata["tool_name"] != "web_search" {
		t.Fatalf("expected tool result persisted with metadata, got %+v", got)
	}
}

func TestGetHistoryOwnerIsolation(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil)
	store.Append(context.Background(), busmodel.Message{ID: "a", OwnerKey: "0xAAA", Role: busmodel.RoleHuman, Content: "hi", Timestamp: time.Now()})
	store.Append(context.Background(), busmodel.Message{ID: "b", OwnerKey: "0xBBB", Role: busmodel.RoleHuman, Content: "hi", Timestamp: time.Now()})

	got := svc.GetHistory(context.Background(), "0xAAA", 10)
	if len(got) != 1 || got[0].OwnerKey != "0xAAA" {
		t.Fatalf("expected owner isolation, got %+v", got)
	}
}
