package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/wowyuarm/nexus/internal/boundary"
	"github.com/wowyuarm/nexus/internal/bus"
	"github.com/wowyuarm/nexus/internal/commands"
	"github.com/wowyuarm/nexus/internal/config"
	llmcontext "github.com/wowyuarm/nexus/internal/context"
	"github.com/wowyuarm/nexus/internal/identity"
	"github.com/wowyuarm/nexus/internal/learning"
	"github.com/wowyuarm/nexus/internal/llmservice"
	"github.com/wowyuarm/nexus/internal/llmservice/providers/anthropic"
	"github.com/wowyuarm/nexus/internal/llmservice/providers/google"
	"github.com/wowyuarm/nexus/internal/llmservice/providers/openai"
	"github.com/wowyuarm/nexus/internal/orchestrator"
	"github.com/wowyuarm/nexus/internal/persistence"
	"github.com/wowyuarm/nexus/internal/toolexec"
)

type serveOptions struct {
	configPath string
	addr       string
	pgDSN      string
}

// commandsAdapter satisfies boundary.CommandRegistry over
// commands.Service's own CommandMeta type: the two packages define
// identical-shaped but distinct CommandMeta structs so neither needs to
// import the other, and this is the 1:1 field conversion between them.
type commandsAdapter struct {
	svc *commands.Service
}

func (a commandsAdapter) ListCommands() []boundary.CommandMeta {
	src := a.svc.ListCommands()
	out := make([]boundary.CommandMeta, len(src))
	for i, c := range src {
		out[i] = boundary.CommandMeta{Name: c.Name, Description: c.Description}
	}
	return out
}

func runServe(ctx context.Context, opts serveOptions) error {
	logger := slog.Default()

	cfg, err := config.LoadNexusConfig(opts.configPath)
	if err != nil {
		logger.Warn("failed to load config file, continuing with defaults", "path", opts.configPath, "error", err)
		cfg = config.DefaultNexusConfig()
	}
	defaults := config.DefaultsAdapter{Cfg: cfg}

	messageStore, closeStore, err := buildMessageStore(ctx, opts.pgDSN, logger)
	if err != nil {
		return fmt.Errorf("message store: %w", err)
	}
	defer closeStore()

	pool, err := buildProviderPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("llm provider pool: %w", err)
	}
	defaultModel := firstCatalogModel(cfg)

	b := bus.New(logger)

	identitySvc := identity.NewService(identity.NewMemoryStore())
	persistenceSvc := persistence.NewService(messageStore, logger)
	toolRegistry := toolexec.NewRegistry()
	toolExecutor := toolexec.NewExecutor(toolRegistry, logger)
	contextBuilder := llmcontext.NewBuilder(persistenceSvc, toolRegistry, cfg.Memory.HistoryContextSize, logger)
	llmSvc := llmservice.NewService(pool, defaultModel, logger)

	resolveProvider := orchestrator.ProviderResolver(func(model string) (string, bool) {
		providerName, _, ok := cfg.ResolveProvider(model)
		return providerName, ok
	})
	orch := orchestrator.New(identitySvc, defaults, cfg.System.MaxToolIterations, resolveProvider, logger)

	commandsSvc := commands.NewService(identitySvc, logger)
	learningSvc := learning.NewService(learning.Config{
		Enabled:        cfg.Memory.Learning.Enabled,
		ThresholdTurns: cfg.Memory.Learning.ThresholdTurns,
		LLMModel:       cfg.Memory.Learning.LLMModel,
	}, persistenceSvc, identitySvc, defaults, pool, defaultModel, logger)

	handler := boundary.NewHandler(b, identitySvc, defaults, persistenceSvc, commandsAdapter{svc: commandsSvc}, logger)

	for _, svc := range []interface{ Start(*bus.Bus) }{
		persistenceSvc, contextBuilder, llmSvc, toolExecutor, orch, commandsSvc, learningSvc, handler,
	} {
		svc.Start(b)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b.Run(ctx)

	server := &http.Server{
		Addr:              opts.addr,
		Handler:           handler.Mount(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", opts.addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	logger.Info("nexusd serving", "addr", opts.addr, "config", opts.configPath)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}
	b.Shutdown()

	logger.Info("nexusd stopped")
	return nil
}

// buildMessageStore opens a Postgres-backed store when dsn is set,
// falling back to the in-memory store otherwise. The returned closer is
// always safe to call.
func buildMessageStore(ctx context.Context, dsn string, logger *slog.Logger) (persistence.Store, func(), error) {
	if dsn == "" {
		return persistence.NewMemoryStore(), func() {}, nil
	}
	store, err := persistence.OpenPGStore(dsn)
	if err != nil {
		return nil, func() {}, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, func() {}, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("persisting messages to postgres")
	return store, func() {}, nil
}

// buildProviderPool registers one llmservice.Provider per entry in
// llm.providers. The "anthropic" and "google" keys route to their
// dedicated SDK adapters; every other key is treated as an
// OpenAI-compatible endpoint (OpenAI itself, DeepSeek, OpenRouter, ...)
// distinguished only by base_url.
func buildProviderPool(ctx context.Context, cfg config.NexusConfig) (*llmservice.Pool, error) {
	pool := llmservice.NewPool()
	for name, p := range cfg.LLM.Providers {
		switch name {
		case "anthropic":
			pool.Register(anthropic.New(p.APIKey, p.Model, []string{p.Model}))
		case "google":
			provider, err := google.New(ctx, p.APIKey, p.Model, []string{p.Model})
			if err != nil {
				return nil, fmt.Errorf("google provider: %w", err)
			}
			pool.Register(provider)
		default:
			pool.Register(openai.New(name, p.APIKey, p.BaseURL, []string{p.Model}))
		}
	}
	return pool, nil
}

// firstCatalogModel picks a fallback model name for
// llmservice.Service's defaultModel: whichever catalog entry map
// iteration yields first (not a fixed choice), since the
// orchestrator always sets an explicit model/provider per request and
// this is only consulted for requests published outside that path.
func firstCatalogModel(cfg config.NexusConfig) string {
	for model := range cfg.LLM.Catalog {
		return model
	}
	return ""
}
