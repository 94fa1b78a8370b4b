// Package boundary is the SSE/HTTP edge of the system: it turns an
// authenticated POST into a Run on the bus and turns the bus's
// ui.events/command.result traffic back into the two kinds of stream
// a client can hold open (a per-run completion stream, a persistent
// per-owner command stream).
package boundary

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wowyuarm/nexus/internal/bus"
	"github.com/wowyuarm/nexus/internal/busmodel"
	"github.com/wowyuarm/nexus/internal/identity"
)

// IdentityResolver is the subset of identity.Service the boundary
// needs: resolving a bearer key and reading/writing its overrides.
type IdentityResolver interface {
	GetOrCreateIdentity(ctx context.Context, key string) identity.GetOrCreateResult
	GetEffectiveProfile(ctx context.Context, key string, defaults identity.DefaultsSource) identity.EffectiveProfile
	UpdateUserConfig(ctx context.Context, key string, overrides map[string]any) error
	UpdateUserPrompts(ctx context.Context, key string, overrides map[string]any) error
}

// HistoryReader is the subset of persistence.Service GET /messages needs.
type HistoryReader interface {
	GetHistory(ctx context.Context, ownerKey string, limit int) []busmodel.Message
}

// CommandMeta describes one registered system.command handler for
// GET /commands.
type CommandMeta struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CommandRegistry is the subset of internal/commands the boundary
// needs to enumerate registered commands for GET /commands. Name
// resolution for a submitted command happens downstream, in
// internal/commands itself — an unknown name still travels the bus and
// comes back as a command.result rather than being rejected here.
type CommandRegistry interface {
	ListCommands() []CommandMeta
}

// Handler is the SSE/HTTP boundary's mux-holding entry point, modeled
// on the teacher's web.Handler: a single struct owning the mux and its
// dependencies, built once at startup and mounted under a base path.
type Handler struct {
	b        *bus.Bus
	identity IdentityResolver
	defaults identity.DefaultsSource
	history  HistoryReader
	commands CommandRegistry
	runs     *runQueues
	owners   *ownerQueues
	metrics  *metrics
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewHandler builds a boundary Handler. commands may be nil if no
// command registry is wired yet; GET /commands then returns an empty
// list rather than failing.
func NewHandler(b *bus.Bus, identitySvc IdentityResolver, defaults identity.DefaultsSource, history HistoryReader, commands CommandRegistry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		b:        b,
		identity: identitySvc,
		defaults: defaults,
		history:  history,
		commands: commands,
		runs:     newRunQueues(),
		owners:   newOwnerQueues(),
		metrics:  newMetrics(),
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	h.setupRoutes()
	return h
}

func (h *Handler) setupRoutes() {
	h.mux.HandleFunc("/healthz", h.handleHealthz)
	h.mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.registry, promhttp.HandlerOpts{}))

	h.mux.HandleFunc("/chat", h.handleChat)
	h.mux.HandleFunc("/stream/", h.handleStream)
	h.mux.HandleFunc("/commands", h.handleCommands)
	h.mux.HandleFunc("/config", h.handleConfig)
	h.mux.HandleFunc("/prompts", h.handlePrompts)
	h.mux.HandleFunc("/messages", h.handleMessages)
}

// Start subscribes the boundary's bus-side routing: ui.events into
// per-run queues, command.result into per-owner queues. Call once
// before the bus's Run loop begins, mirroring every other service's
// Start(b) convention.
func (h *Handler) Start(b *bus.Bus) {
	h.b = b
	b.Subscribe(busmodel.TopicUIEvents, func(ctx context.Context, msg busmodel.Message) {
		h.runs.route(msg)
	})
	b.Subscribe(busmodel.TopicCommandResult, func(ctx context.Context, msg busmodel.Message) {
		h.owners.route(msg)
	})
}

// ServeHTTP lets Handler itself be mounted directly as an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Mount wraps the handler with the boundary's standard middleware
// chain: logging outermost, same ordering convention as the teacher's
// web.Handler.Mount.
func (h *Handler) Mount() http.Handler {
	return LoggingMiddleware(h.logger)(h)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{"status": "ok"})
}

func (h *Handler) handleCommands(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.authenticateBearer(w, r); !ok {
			return
		}
		var list []CommandMeta
		if h.commands != nil {
			list = h.commands.ListCommands()
		}
		h.jsonResponse(w, map[string]any{"commands": list})
	case http.MethodPost:
		h.handleCommandSubmit(w, r)
	default:
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// jsonResponse writes data as a 200 JSON response, matching the
// teacher's api.go convention.
func (h *Handler) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("jsonResponse encode failed", "error", err)
	}
}

// jsonError writes a {"error": message} response with the given status.
func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("jsonError encode failed", "error", err)
	}
}

// pathTail strips prefix from r.URL.Path and returns the first
// remaining path segment, matching the teacher's apiSession pattern
// for "/api/sessions/{id}"-style routes.
func pathTail(path, prefix string) string {
	tail := strings.TrimPrefix(path, prefix)
	if i := strings.IndexByte(tail, '/'); i >= 0 {
		tail = tail[:i]
	}
	return tail
}
