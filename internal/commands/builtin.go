package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wowyuarm/nexus/internal/identity"
)

// IdentityLookup is the subset of identity.Service the /identity
// builtin needs to summarize the caller's record.
type IdentityLookup interface {
	GetOrCreateIdentity(ctx context.Context, key string) identity.GetOrCreateResult
}

// RegisterBuiltins registers the built-in commands: help, whoami, and
// (when identitySvc is non-nil) the supplemented /identity command.
func RegisterBuiltins(r *Registry, identitySvc IdentityLookup) {
	mustRegister := func(cmd *Command) {
		if err := r.Register(cmd); err != nil {
			panic(fmt.Sprintf("failed to register builtin command %q: %v", cmd.Name, err))
		}
	}

	mustRegister(&Command{
		Name:        "help",
		Aliases:     []string{"h", "?", "commands"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		AcceptsArgs: true,
		Category:    "system",
		Source:      "builtin",
		Handler:     helpHandler(r),
	})

	mustRegister(&Command{
		Name:        "whoami",
		Aliases:     []string{"id"},
		Description: "Show the caller's public key",
		Category:    "system",
		Source:      "builtin",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			if inv.OwnerKey == "" {
				return &Result{Text: "Owner identity unavailable."}, nil
			}
			return &Result{Text: "Owner: " + inv.OwnerKey}, nil
		},
	})

	if identitySvc != nil {
		mustRegister(&Command{
			Name:        "identity",
			Description: "Show the caller's stored identity record and overrides",
			Category:    "system",
			Source:      "builtin",
			Handler:     identityHandler(identitySvc),
		})
	}
}

// titleCase converts the first letter to uppercase.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func helpHandler(r *Registry) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		if inv.Args != "" {
			cmdName := strings.ToLower(strings.TrimSpace(inv.Args))
			cmdName = strings.TrimPrefix(cmdName, "/")

			cmd, exists := r.Get(cmdName)
			if !exists {
				return &Result{
					Text: fmt.Sprintf("Unknown command: %s\n\nUse /help to see available commands.", cmdName),
				}, nil
			}

			var sb strings.Builder
			sb.WriteString(fmt.Sprintf("**/%s**\n", cmd.Name))
			if cmd.Description != "" {
				sb.WriteString(fmt.Sprintf("%s\n", cmd.Description))
			}
			if cmd.Usage != "" {
				sb.WriteString(fmt.Sprintf("\nUsage: `%s`\n", cmd.Usage))
			}
			if len(cmd.Aliases) > 0 {
				aliases := make([]string, len(cmd.Aliases))
				for i, a := range cmd.Aliases {
					aliases[i] = "/" + a
				}
				sb.WriteString(fmt.Sprintf("\nAliases: %s\n", strings.Join(aliases, ", ")))
			}

			return &Result{Text: sb.String(), Markdown: true}, nil
		}

		byCategory := r.ListByCategory()
		categories := make([]string, 0, len(byCategory))
		for cat := range byCategory {
			categories = append(categories, cat)
		}
		sort.Strings(categories)

		var sb strings.Builder
		sb.WriteString("**Available Commands**\n\n")

		for _, category := range categories {
			commands := byCategory[category]
			if len(commands) == 0 {
				continue
			}
			sb.WriteString(fmt.Sprintf("**%s**\n", titleCase(category)))
			for _, cmd := range commands {
				desc := cmd.Description
				if desc == "" {
					desc = "No description"
				}
				sb.WriteString(fmt.Sprintf("  `/%s` - %s\n", cmd.Name, desc))
			}
			sb.WriteString("\n")
		}

		sb.WriteString("Use `/help <command>` for more details.")
		return &Result{Text: sb.String(), Markdown: true}, nil
	}
}

func identityHandler(identitySvc IdentityLookup) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		if inv.OwnerKey == "" {
			return &Result{Error: "no owner key on this invocation"}, nil
		}
		res := identitySvc.GetOrCreateIdentity(ctx, inv.OwnerKey)
		text := fmt.Sprintf("Identity: %s", inv.OwnerKey)
		if res.JustCreated {
			text += " (just created)"
		}
		return &Result{
			Text: text,
			Data: map[string]any{"record": res.Record, "just_created": res.JustCreated},
		}, nil
	}
}
