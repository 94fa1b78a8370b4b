// Package learning implements the friend-profile memory loop: it
// watches every context.build.request, counts turns per owner in
// memory, and once a configured threshold is reached asks an LLM to
// fold the recent conversation into an updated prompt_overrides entry
// — a "friends_profile" block the Context Builder later injects into
// the prompt's [FRIENDS_INFO] message. It never touches the run's own critical
// path; a learning failure is logged and otherwise invisible.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/wowyuarm/nexus/internal/bus"
	"github.com/wowyuarm/nexus/internal/busmodel"
	"github.com/wowyuarm/nexus/internal/identity"
	"github.com/wowyuarm/nexus/internal/llmservice"
)

// HistorySource is the subset of persistence.Service the learning loop
// needs: the last N messages for an owner, newest-first.
type HistorySource interface {
	GetHistory(ctx context.Context, ownerKey string, limit int) []busmodel.Message
}

// IdentityAccess is the subset of identity.Service the learning loop
// needs to read the existing profile, resolve the owner's effective
// model preference, and write back the updated profile.
type IdentityAccess interface {
	GetIdentity(ctx context.Context, key string) *identity.Record
	GetOrCreateIdentity(ctx context.Context, key string) identity.GetOrCreateResult
	GetEffectiveProfile(ctx context.Context, key string, defaults identity.DefaultsSource) identity.EffectiveProfile
	UpdateUserPrompts(ctx context.Context, key string, overrides map[string]any) error
}

// Config is the subset of memory.learning.* this loop is gated by.
type Config struct {
	Enabled        bool
	ThresholdTurns int
	// LLMModel selects whose model/provider preferences drive the
	// extraction call: "system" (the default model) or "user" (the
	// owner's own effective config). Anything else behaves as "system".
	LLMModel string
}

const historyWindow = 20

// Service implements the learning loop described above.
type Service struct {
	cfg          Config
	history      HistorySource
	identity     IdentityAccess
	defaults     identity.DefaultsSource
	pool         *llmservice.Pool
	defaultModel string
	logger       *slog.Logger

	mu     sync.Mutex
	counts map[string]int
}

// NewService wires a learning Service. pool/defaultModel resolve the
// provider used for the out-of-band extraction call, the same routing
// llmservice.Service itself uses for the main run loop; defaults is
// only consulted when cfg.LLMModel is "user" and may be nil otherwise.
func NewService(cfg Config, history HistorySource, identitySvc IdentityAccess, defaults identity.DefaultsSource, pool *llmservice.Pool, defaultModel string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:          cfg,
		history:      history,
		identity:     identitySvc,
		defaults:     defaults,
		pool:         pool,
		defaultModel: defaultModel,
		logger:       logger,
		counts:       make(map[string]int),
	}
}

// Start subscribes the loop on b, alongside persistence's own
// independent subscription to the same topic — the bus fans a topic
// out to every subscriber, so the two coexist without coordination.
func (s *Service) Start(b *bus.Bus) {
	if !s.cfg.Enabled {
		s.logger.Info("memory learning disabled, not subscribing")
		return
	}
	b.Subscribe(busmodel.TopicContextBuildRequest, s.handle)
}

func (s *Service) handle(ctx context.Context, msg busmodel.Message) {
	run, ok := msg.AsRun()
	if !ok || run == nil {
		return
	}
	ownerKey := run.OwnerKey
	if ownerKey == "" {
		return
	}
	if !s.shouldLearn(ownerKey) {
		return
	}
	// Fire-and-forget: the extraction call must never hold up the
	// context-build stage it rode in on.
	go s.learn(context.Background(), ownerKey)
}

// shouldLearn increments ownerKey's in-memory turn counter and reports
// whether the threshold was just crossed, resetting the counter so the
// next window starts fresh — the in-process analogue of the original's
// atomic database increment-and-check.
func (s *Service) shouldLearn(ownerKey string) bool {
	threshold := s.cfg.ThresholdTurns
	if threshold <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[ownerKey]++
	if s.counts[ownerKey] < threshold {
		return false
	}
	s.counts[ownerKey] = 0
	return true
}

func (s *Service) learn(ctx context.Context, ownerKey string) {
	existing := s.existingProfile(ctx, ownerKey)
	history := s.history.GetHistory(ctx, ownerKey, historyWindow)
	newProfile, err := s.extractProfile(ctx, ownerKey, existing, history)
	if err != nil {
		s.logger.Error("memory learning extraction failed", "owner_key", ownerKey, "error", err)
		return
	}
	if newProfile == "" {
		s.logger.Warn("memory learning got empty profile, keeping existing", "owner_key", ownerKey)
		return
	}
	if err := s.writeProfile(ctx, ownerKey, newProfile); err != nil {
		s.logger.Error("memory learning profile write failed", "owner_key", ownerKey, "error", err)
		return
	}
	s.logger.Info("friends profile updated", "owner_key", ownerKey, "length", len(newProfile))
}

func (s *Service) existingProfile(ctx context.Context, ownerKey string) string {
	record := s.identity.GetIdentity(ctx, ownerKey)
	if record == nil {
		return ""
	}
	v, _ := record.PromptOverrides["friends_profile"].(string)
	return v
}

func (s *Service) writeProfile(ctx context.Context, ownerKey, newProfile string) error {
	record := s.identity.GetIdentity(ctx, ownerKey)
	overrides := map[string]any{}
	if record != nil {
		for k, v := range record.PromptOverrides {
			overrides[k] = v
		}
	}
	overrides["friends_profile"] = newProfile
	return s.identity.UpdateUserPrompts(ctx, ownerKey, overrides)
}

func (s *Service) extractProfile(ctx context.Context, ownerKey, existing string, history []busmodel.Message) (string, error) {
	model := s.resolveModel(ctx, ownerKey)
	provider, ok := s.pool.Get(model)
	if !ok {
		return "", fmt.Errorf("no provider registered for %q", model)
	}
	prompt := buildLearningPrompt(existing, formatHistoryForPrompt(history))
	req := llmservice.CompletionRequest{
		Model:    model,
		Messages: []llmservice.ChatMessage{{Role: "user", Content: prompt}},
	}
	result, err := provider.Complete(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Content), nil
}

// resolveModel honors memory.learning.llm_model: "user" routes the
// extraction call through the owner's own effective model preference,
// "system" (or anything else) uses the service's configured default.
func (s *Service) resolveModel(ctx context.Context, ownerKey string) string {
	if s.cfg.LLMModel != "user" || s.defaults == nil {
		return s.defaultModel
	}
	profile := s.identity.GetEffectiveProfile(ctx, ownerKey, s.defaults)
	if m, ok := profile.EffectiveConfig["model"].(string); ok && m != "" {
		return m
	}
	return s.defaultModel
}
