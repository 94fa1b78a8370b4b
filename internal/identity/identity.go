// Package identity implements the gatekeeper: resolving a bearer public
// key to a stored member record, creating one on first contact, and
// merging per-user overrides onto system defaults into an effective
// profile.
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Record is the persisted identity document. Overrides start empty;
// users author them via the authenticated REST surface.
type Record struct {
	PublicKey       string         `json:"public_key"`
	CreatedAt       time.Time      `json:"created_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ConfigOverrides map[string]any `json:"config_overrides"`
	PromptOverrides map[string]any `json:"prompt_overrides"`
}

func clone(r *Record) *Record {
	c := *r
	c.Metadata = cloneMap(r.Metadata)
	c.ConfigOverrides = cloneMap(r.ConfigOverrides)
	c.PromptOverrides = cloneMap(r.PromptOverrides)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store persists Records, keyed by public key.
type Store interface {
	Get(ctx context.Context, publicKey string) (*Record, error)
	Create(ctx context.Context, r *Record) error
	Update(ctx context.Context, r *Record) error
}

// MemoryStore is an in-memory Store, modeled on the defensive-copy
// concurrency discipline used elsewhere in this codebase for
// process-local registries: every read and write clones so callers can
// never mutate through an aliased pointer.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Get(ctx context.Context, publicKey string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[publicKey]
	if !ok {
		return nil, nil
	}
	return clone(r), nil
}

func (s *MemoryStore) Create(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.PublicKey]; exists {
		return fmt.Errorf("identity already exists: %s", r.PublicKey)
	}
	s.records[r.PublicKey] = clone(r)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.PublicKey]; !exists {
		return fmt.Errorf("identity not found: %s", r.PublicKey)
	}
	s.records[r.PublicKey] = clone(r)
	return nil
}

// PromptDefault is one entry of user_defaults.prompts.*: a default
// prompt body plus the UI metadata describing whether and where the
// user may edit it.
type PromptDefault struct {
	Content  string `json:"content"`
	Editable bool   `json:"editable"`
	Order    int    `json:"order"`
}

// EffectivePrompt is a PromptDefault with its content possibly
// substituted by a user override; editable/order always come from the
// default regardless of the override.
type EffectivePrompt struct {
	Content  string `json:"content"`
	Editable bool   `json:"editable"`
	Order    int    `json:"order"`
}

// DefaultsSource supplies the system defaults an effective profile is
// merged against; it is the read side of the config surface's
// user_defaults.* and ui.* keys.
type DefaultsSource interface {
	DefaultConfig() map[string]any
	DefaultPrompts() map[string]PromptDefault
	EditableFields() []string
	FieldOptions() map[string]any
}

// EffectiveProfile is the merged view served to the context builder and
// the REST config/prompts endpoints.
type EffectiveProfile struct {
	EffectiveConfig  map[string]any             `json:"effective_config"`
	EffectivePrompts map[string]EffectivePrompt `json:"effective_prompts"`
	UserOverrides    map[string]any             `json:"user_overrides"`
	EditableFields   []string                   `json:"editable_fields"`
	FieldOptions     map[string]any             `json:"field_options"`
}

// Service is the gatekeeper.
type Service struct {
	store Store
}

// NewService builds a gatekeeper over store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// GetIdentity returns the stored record for key, or nil if none exists.
// Store errors surface as "not found" (nil) per the gatekeeper's
// never-raise contract.
func (s *Service) GetIdentity(ctx context.Context, key string) *Record {
	r, err := s.store.Get(ctx, key)
	if err != nil {
		return nil
	}
	return r
}

// CreateIdentity creates a fresh record with empty override maps.
// Returns false (never an error) on failure.
func (s *Service) CreateIdentity(ctx context.Context, key string, metadata map[string]any) bool {
	r := &Record{
		PublicKey:       key,
		CreatedAt:       time.Now().UTC(),
		Metadata:        metadata,
		ConfigOverrides: map[string]any{},
		PromptOverrides: map[string]any{},
	}
	return s.store.Create(ctx, r) == nil
}

// GetOrCreateResult wraps the resolved record together with whether it
// was created by this call (the transient "just_created" flag).
type GetOrCreateResult struct {
	Record      *Record
	JustCreated bool
}

// GetOrCreateIdentity resolves key to a record, creating one on first
// contact. Idempotent after the first call for a given key.
func (s *Service) GetOrCreateIdentity(ctx context.Context, key string) GetOrCreateResult {
	if r := s.GetIdentity(ctx, key); r != nil {
		return GetOrCreateResult{Record: r}
	}
	s.CreateIdentity(ctx, key, nil)
	r := s.GetIdentity(ctx, key)
	return GetOrCreateResult{Record: r, JustCreated: true}
}

// GetEffectiveProfile merges key's stored overrides onto defaults.
// Prompt entries keep editable/order from the default and substitute
// only content from the override.
func (s *Service) GetEffectiveProfile(ctx context.Context, key string, defaults DefaultsSource) EffectiveProfile {
	r := s.GetIdentity(ctx, key)

	configOverrides := map[string]any{}
	promptOverrides := map[string]any{}
	if r != nil {
		configOverrides = r.ConfigOverrides
		promptOverrides = r.PromptOverrides
	}

	effConfig := cloneMap(defaults.DefaultConfig())
	for k, v := range configOverrides {
		effConfig[k] = v
	}

	defaultPrompts := defaults.DefaultPrompts()
	effPrompts := make(map[string]EffectivePrompt, len(defaultPrompts))
	for name, def := range defaultPrompts {
		ep := EffectivePrompt{Content: def.Content, Editable: def.Editable, Order: def.Order}
		if ov, ok := promptOverrides[name]; ok {
			if s, ok := ov.(string); ok {
				ep.Content = s
			} else if m, ok := ov.(map[string]any); ok {
				if c, ok := m["content"].(string); ok {
					ep.Content = c
				}
			}
		}
		effPrompts[name] = ep
	}

	return EffectiveProfile{
		EffectiveConfig:  effConfig,
		EffectivePrompts: effPrompts,
		UserOverrides: map[string]any{
			"config":  configOverrides,
			"prompts": promptOverrides,
		},
		EditableFields: defaults.EditableFields(),
		FieldOptions:   defaults.FieldOptions(),
	}
}

// UpdateUserConfig atomically replaces key's config_overrides.
func (s *Service) UpdateUserConfig(ctx context.Context, key string, overrides map[string]any) error {
	res := s.GetOrCreateIdentity(ctx, key)
	r := res.Record
	if r == nil {
		return fmt.Errorf("identity: could not resolve %s", key)
	}
	r.ConfigOverrides = overrides
	return s.store.Update(ctx, r)
}

// UpdateUserPrompts atomically replaces key's prompt_overrides.
func (s *Service) UpdateUserPrompts(ctx context.Context, key string, overrides map[string]any) error {
	res := s.GetOrCreateIdentity(ctx, key)
	r := res.Record
	if r == nil {
		return fmt.Errorf("identity: could not resolve %s", key)
	}
	r.PromptOverrides = overrides
	return s.store.Update(ctx, r)
}
