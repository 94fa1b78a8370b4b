package commands

import (
	"context"
	"strings"
	"testing"

	"github.com/wowyuarm/nexus/internal/identity"
)

type fakeIdentityLookup struct{ justCreated bool }

func (f fakeIdentityLookup) GetOrCreateIdentity(ctx context.Context, key string) identity.GetOrCreateResult {
	return identity.GetOrCreateResult{
		Record:      &identity.Record{PublicKey: key},
		JustCreated: f.justCreated,
	}
}

func TestTitleCase(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"hello", "Hello"},
		{"Hello", "Hello"},
		{"HELLO", "HELLO"},
		{"h", "H"},
		{"system", "System"},
	}

	for _, tt := range tests {
		result := titleCase(tt.input)
		if result != tt.expected {
			t.Errorf("titleCase(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry(nil)
	RegisterBuiltins(r, fakeIdentityLookup{})

	for _, name := range []string{"help", "whoami", "identity"} {
		if _, found := r.Get(name); !found {
			t.Errorf("builtin command %q not registered", name)
		}
	}

	aliases := map[string]string{
		"h":        "help",
		"?":        "help",
		"commands": "help",
		"id":       "whoami",
	}
	for alias, expectedName := range aliases {
		cmd, found := r.Get(alias)
		if !found {
			t.Errorf("alias %q not registered", alias)
			continue
		}
		if cmd.Name != expectedName {
			t.Errorf("alias %q maps to %q, want %q", alias, cmd.Name, expectedName)
		}
	}
}

func TestRegisterBuiltins_NoIdentityService(t *testing.T) {
	r := NewRegistry(nil)
	RegisterBuiltins(r, nil)

	if _, found := r.Get("identity"); found {
		t.Error("identity command registered without an identity service")
	}
	if _, found := r.Get("help"); !found {
		t.Error("help should still register without an identity service")
	}
}

func TestBuiltinHandlers_Whoami(t *testing.T) {
	r := NewRegistry(nil)
	RegisterBuiltins(r, fakeIdentityLookup{})

	t.Run("with owner key", func(t *testing.T) {
		result, err := r.Execute(context.Background(), &Invocation{Name: "whoami", OwnerKey: "0xabc"})
		if err != nil {
			t.Fatalf("whoami command failed: %v", err)
		}
		if !strings.Contains(result.Text, "0xabc") {
			t.Errorf("result doesn't contain owner key: %s", result.Text)
		}
	})

	t.Run("without owner key", func(t *testing.T) {
		result, err := r.Execute(context.Background(), &Invocation{Name: "whoami"})
		if err != nil {
			t.Fatalf("whoami command failed: %v", err)
		}
		if !strings.Contains(result.Text, "unavailable") {
			t.Errorf("expected unavailable message, got: %s", result.Text)
		}
	})
}

func TestBuiltinHandlers_Identity(t *testing.T) {
	r := NewRegistry(nil)
	RegisterBuiltins(r, fakeIdentityLookup{justCreated: true})

	result, err := r.Execute(context.Background(), &Invocation{Name: "identity", OwnerKey: "0xabc"})
	if err != nil {
		t.Fatalf("identity command failed: %v", err)
	}
	if !strings.Contains(result.Text, "0xabc") || !strings.Contains(result.Text, "just created") {
		t.Errorf("unexpected identity result text: %s", result.Text)
	}
	if result.Data["just_created"] != true {
		t.Errorf("just_created = %v, want true", result.Data["just_created"])
	}
}

func TestBuiltinHandlers_Identity_NoOwnerKey(t *testing.T) {
	r := NewRegistry(nil)
	RegisterBuiltins(r, fakeIdentityLookup{})

	result, err := r.Execute(context.Background(), &Invocation{Name: "identity"})
	if err != nil {
		t.Fatalf("identity command failed: %v", err)
	}
	if result.Error == "" {
		t.Error("expected an error result when no owner key is present")
	}
}

func TestBuiltinHandlers_Help(t *testing.T) {
	r := NewRegistry(nil)
	RegisterBuiltins(r, fakeIdentityLookup{})

	t.Run("list all commands", func(t *testing.T) {
		result, err := r.Execute(context.Background(), &Invocation{Name: "help"})
		if err != nil {
			t.Fatalf("help command failed: %v", err)
		}
		if !strings.Contains(result.Text, "Available Commands") {
			t.Error("missing header")
		}
		if !result.Markdown {
			t.Error("help should use markdown")
		}
	})

	t.Run("specific command", func(t *testing.T) {
		result, err := r.Execute(context.Background(), &Invocation{Name: "help", Args: "whoami"})
		if err != nil {
			t.Fatalf("help command failed: %v", err)
		}
		if !strings.Contains(result.Text, "/whoami") {
			t.Error("missing command name")
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		result, err := r.Execute(context.Background(), &Invocation{Name: "help", Args: "nonexistent"})
		if err != nil {
			t.Fatalf("help command failed: %v", err)
		}
		if !strings.Contains(result.Text, "Unknown command") {
			t.Error("expected unknown command message")
		}
	})

	t.Run("with slash prefix", func(t *testing.T) {
		result, err := r.Execute(context.Background(), &Invocation{Name: "help", Args: "/whoami"})
		if err != nil {
			t.Fatalf("help command failed: %v", err)
		}
		if !strings.Contains(result.Text, "/whoami") {
			t.Error("should strip slash and find command")
		}
	})
}
