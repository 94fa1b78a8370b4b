package identity

import (
	"context"
	"testing"
)

type fakeDefaults struct {
	config  map[string]any
	prompts map[string]PromptDefault
	fields  []string
	options map[string]any
}

func (f fakeDefaults) DefaultConfig() map[string]any            { return f.config }
func (f fakeDefaults) DefaultPrompts() map[string]PromptDefault { return f.prompts }
func (f fakeDefaults) EditableFields() []string                 { return f.fields }
func (f fakeDefaults) FieldOptions() map[string]any             { return f.options }

func newTestDefaults() fakeDefaults {
	return fakeDefaults{
		config: map[string]any{"tone": "neutral", "verbosity": "normal"},
		prompts: map[string]PromptDefault{
			"friends_profile": {Content: "", Editable: true, Order: 1},
			"core_identity":   {Content: "You are Nexus.", Editable: false, Order: 0},
		},
		fields:  []string{"tone", "verbosity"},
		options: map[string]any{"tone": []string{"neutral", "warm", "blunt"}},
	}
}

func TestGetOrCreateIdentityIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	first := svc.GetOrCreateIdentity(ctx, "0xABC")
	if !first.JustCreated {
		t.Fatal("expected first call to create the identity")
	}

	second := svc.GetOrCreateIdentity(ctx, "0xABC")
	if second.JustCreated {
		t.Fatal("expected second call to reuse the existing identity")
	}
	if second.Record.CreatedAt != first.Record.CreatedAt {
		t.Fatal("expected stable CreatedAt across calls")
	}
}

func TestGetEffectiveProfileMergesOverrides(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	svc.GetOrCreateIdentity(ctx, "0xABC")

	if err := svc.UpdateUserConfig(ctx, "0xABC", map[string]any{"tone": "warm"}); err != nil {
		t.Fatalf("UpdateUserConfig: %v", err)
	}
	if err := svc.UpdateUserPrompts(ctx, "0xABC", map[string]any{"friends_profile": "Loves hiking."}); err != nil {
		t.Fatalf("UpdateUserPrompts: %v", err)
	}

	profile := svc.GetEffectiveProfile(ctx, "0xABC", newTestDefaults())

	if profile.EffectiveConfig["tone"] != "warm" {
		t.Fatalf("expected tone override to apply, got %v", profile.EffectiveConfig["tone"])
	}
	if profile.EffectiveConfig["verbosity"] != "normal" {
		t.Fatalf("expected unrelated default to survive, got %v", profile.EffectiveConfig["verbosity"])
	}
	fp := profile.EffectivePrompts["friends_profile"]
	if fp.Content != "Loves hiking." {
		t.Fatalf("expected content override, got %q", fp.Content)
	}
	if !fp.Editable || fp.Order != 1 {
		t.Fatalf("expected editable/order preserved from default, got %+v", fp)
	}
}

func TestGetEffectiveProfileIsolatesOtherOwners(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	svc.GetOrCreateIdentity(ctx, "0xAAA")
	svc.GetOrCreateIdentity(ctx, "0xBBB")
	svc.UpdateUserConfig(ctx, "0xAAA", map[string]any{"tone": "warm"})

	other := svc.GetEffectiveProfile(ctx, "0xBBB", newTestDefaults())
	if other.EffectiveConfig["tone"] != "neutral" {
		t.Fatalf("expected owner isolation, got %v", other.EffectiveConfig["tone"])
	}
}

func TestGetIdentityMissingReturnsNil(t *testing.T) {
	svc := NewService(NewMemoryStore())
	if r := svc.GetIdentity(context.Background(), "0xNONE"); r != nil {
		t.Fatalf("expected nil for unknown key, got %+v", r)
	}
}
