package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/wowyuarm/nexus/internal/identity"
)

// NexusConfig is the closed configuration surface: memory/history
// tuning, the agentic loop's iteration cap, the LLM provider/catalog
// routing table, per-user defaults, and UI rendering hints.
type NexusConfig struct {
	Memory      MemorySurface                  `yaml:"memory"`
	System      SystemSurface                  `yaml:"system"`
	LLM         LLMSurface                      `yaml:"llm"`
	UserDefault UserDefaultsSurface              `yaml:"user_defaults"`
	UI          UISurface                        `yaml:"ui"`
}

type MemorySurface struct {
	HistoryContextSize int             `yaml:"history_context_size"`
	Learning           LearningSurface `yaml:"learning"`
}

type LearningSurface struct {
	Enabled        bool   `yaml:"enabled"`
	ThresholdTurns int    `yaml:"threshold_turns"`
	LLMModel       string `yaml:"llm_model"` // "system" or "user"
}

type SystemSurface struct {
	MaxToolIterations int `yaml:"max_tool_iterations"`
}

type ProviderSurface struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type CatalogEntry struct {
	Provider string `yaml:"provider"`
	ID       string `yaml:"id"`
}

type LLMSurface struct {
	Providers map[string]ProviderSurface `yaml:"providers"`
	Catalog   map[string]CatalogEntry    `yaml:"catalog"`
}

type UserDefaultsSurface struct {
	Config  map[string]any                    `yaml:"config"`
	Prompts map[string]identity.PromptDefault `yaml:"prompts"`
}

type UISurface struct {
	EditableFields []string       `yaml:"editable_fields"`
	FieldOptions   map[string]any `yaml:"field_options"`
}

// DefaultNexusConfig returns the built-in minimal configuration used
// when no value is loaded for a given environment.
func DefaultNexusConfig() NexusConfig {
	return NexusConfig{
		Memory: MemorySurface{
			HistoryContextSize: 20,
			Learning: LearningSurface{
				Enabled:        true,
				ThresholdTurns: 20,
				LLMModel:       "system",
			},
		},
		System: SystemSurface{MaxToolIterations: 5},
		LLM: LLMSurface{
			Providers: map[string]ProviderSurface{},
			Catalog:   map[string]CatalogEntry{},
		},
		UserDefault: UserDefaultsSurface{
			Config:  map[string]any{},
			Prompts: map[string]identity.PromptDefault{},
		},
		UI: UISurface{EditableFields: []string{}, FieldOptions: map[string]any{}},
	}
}

// LoadNexusConfig reads and env-interpolates a YAML document from path,
// merging it over DefaultNexusConfig. One document per environment
// ("development", "production", ...); migrations are out of scope.
func LoadNexusConfig(path string) (NexusConfig, error) {
	cfg := DefaultNexusConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := expandEnvPassthrough(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvPassthrough replaces every "${NAME}" occurrence with the
// process environment variable NAME. Unlike os.ExpandEnv, an unset
// variable is left as the literal "${NAME}" rather than being replaced
// with the empty string — the spec's configuration surface requires
// pass-through so operators can tell "unset" from "set to empty".
func expandEnvPassthrough(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// DefaultsAdapter exposes NexusConfig as an identity.DefaultsSource.
type DefaultsAdapter struct {
	Cfg NexusConfig
}

func (a DefaultsAdapter) DefaultConfig() map[string]any { return a.Cfg.UserDefault.Config }

func (a DefaultsAdapter) DefaultPrompts() map[string]identity.PromptDefault {
	return a.Cfg.UserDefault.Prompts
}

func (a DefaultsAdapter) EditableFields() []string { return a.Cfg.UI.EditableFields }

func (a DefaultsAdapter) FieldOptions() map[string]any { return a.Cfg.UI.FieldOptions }

// ResolveProvider follows llm.catalog.<model> -> llm.providers.<provider>
// routing, returning the provider name and its credentials/base URL.
func (c NexusConfig) ResolveProvider(modelName string) (providerName string, provider ProviderSurface, ok bool) {
	entry, found := c.LLM.Catalog[modelName]
	if !found {
		return "", ProviderSurface{}, false
	}
	p, found := c.LLM.Providers[entry.Provider]
	if !found {
		return "", ProviderSurface{}, false
	}
	return entry.Provider, p, true
}
