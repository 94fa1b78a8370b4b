package main

import (
	"context"
	"testing"

	"github.com/wowyuarm/nexus/internal/commands"
	"github.com/wowyuarm/nexus/internal/config"
)

func TestBuildProviderPoolRoutesByName(t *testing.T) {
	cfg := config.NexusConfig{
		LLM: config.LLMSurface{
			Providers: map[string]config.ProviderSurface{
				"anthropic": {APIKey: "x", Model: "claude-test"},
				"google":    {APIKey: "x", Model: "gemini-test"},
				"deepseek":  {APIKey: "x", BaseURL: "https://api.deepseek.com", Model: "deepseek-chat"},
			},
		},
	}

	pool, err := buildProviderPool(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildProviderPool: %v", err)
	}

	for _, name := range []string{"anthropic", "google", "deepseek"} {
		if _, ok := pool.Get(name); !ok {
			t.Errorf("expected provider %q registered in pool", name)
		}
	}
}

func TestFirstCatalogModelEmptyCatalog(t *testing.T) {
	cfg := config.DefaultNexusConfig()
	if got := firstCatalogModel(cfg); got != "" {
		t.Errorf("firstCatalogModel on empty catalog = %q, want empty", got)
	}
}

func TestFirstCatalogModelReturnsARegisteredEntry(t *testing.T) {
	cfg := config.NexusConfig{
		LLM: config.LLMSurface{
			Catalog: map[string]config.CatalogEntry{
				"claude-test": {Provider: "anthropic", ID: "claude-test"},
			},
		},
	}
	if got := firstCatalogModel(cfg); got != "claude-test" {
		t.Errorf("firstCatalogModel = %q, want claude-test", got)
	}
}

func TestBuildMessageStoreDefaultsToMemory(t *testing.T) {
	store, closeFn, err := buildMessageStore(context.Background(), "", nil)
	defer closeFn()
	if err != nil {
		t.Fatalf("buildMessageStore: %v", err)
	}
	if store == nil {
		t.Fatal("expected a non-nil in-memory store")
	}
}

func TestCommandsAdapterConvertsMeta(t *testing.T) {
	svc := commands.NewService(nil, nil)
	adapter := commandsAdapter{svc: svc}

	list := adapter.ListCommands()
	if len(list) == 0 {
		t.Fatal("expected at least one command (help) converted")
	}
	found := false
	for _, c := range list {
		if c.Name == "help" {
			found = true
		}
	}
	if !found {
		t.Error("expected help command in adapted list")
	}
}
