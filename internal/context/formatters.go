// Package context assembles the fixed five-message LLM prompt from a
// run's profile, tool catalog, and conversation history.
package context

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wowyuarm/nexus/internal/busmodel"
)

const coreIdentity = `You are Nexus. You help the person you're talking with by drawing on ` +
	`your capabilities, shared memory, and what you know about them. The sections below ` +
	`are marked with bracketed tags: [CAPABILITIES], [SHARED_MEMORY], [FRIENDS_INFO], and ` +
	`[THIS_MOMENT]. Always match the human's language.`

func formatCapabilities(tools []busmodel.ToolSpec) string {
	if len(tools) == 0 {
		return "[CAPABILITIES]\nNo tools available."
	}
	var b strings.Builder
	b.WriteString("[CAPABILITIES]\n")
	for _, t := range tools {
		b.WriteString(fmt.Sprintf("- %s: %s\n", t.Name, t.Description))
		names := make([]string, 0, len(t.Parameters))
		for name := range t.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			spec, _ := t.Parameters[name].(map[string]any)
			required, _ := spec["required"].(bool)
			kind, _ := spec["type"].(string)
			desc, _ := spec["description"].(string)
			req := "optional"
			if required {
				req = "required"
			}
			b.WriteString(fmt.Sprintf("    %s (%s, %s): %s\n", name, kind, req, desc))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSharedMemory(history []busmodel.Message, limit int) string {
	filtered := make([]busmodel.Message, 0, len(history))
	for _, m := range history {
		if m.Role == busmodel.RoleHuman || m.Role == busmodel.RoleAI {
			filtered = append(filtered, m)
		}
	}
	// History arrives newest-first; render chronologically (oldest-first).
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Timestamp.Before(filtered[j].Timestamp) })
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("[SHARED_MEMORY count=%d]\nRecent conversation memory:\n\n", len(filtered)))
	if len(filtered) == 0 {
		b.WriteString("(No previous conversations yet)")
		return b.String()
	}
	for _, m := range filtered {
		who := "Human"
		if m.Role == busmodel.RoleAI {
			who = "Nexus"
		}
		text, _ := m.AsText()
		if text == "" {
			if mp, ok := m.AsMap(); ok {
				if c, ok := mp["content"].(string); ok {
					text = c
				}
			}
		}
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04"), who, text))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatFriendsInfo(userProfile map[string]any, createdAt *time.Time) string {
	body := "(Still learning about this friend's preferences)"

	if userProfile != nil {
		if promptOverrides, ok := userProfile["prompt_overrides"].(map[string]any); ok {
			if fp, ok := promptOverrides["friends_profile"].(string); ok && fp != "" {
				body = fp
			} else if legacy, ok := promptOverrides["learning"].(string); ok && legacy != "" {
				body = legacy
			} else if createdAt != nil {
				body = "Member since: " + createdAt.Format("2006-01-02")
			}
		} else if createdAt != nil {
			body = "Member since: " + createdAt.Format("2006-01-02")
		}
	}

	return fmt.Sprintf("[FRIENDS_INFO]\nAbout this friend:\n\n%s", body)
}

// formatMoment renders THIS_MOMENT. timestampUTC is an ISO-8601 string;
// timezoneOffset follows JavaScript's getTimezoneOffset convention:
// minutes WEST of UTC, so local time = UTC - timezoneOffset minutes.
func formatMoment(timestampUTC string, timezoneOffset int, humanInput string) string {
	var b strings.Builder
	b.WriteString("[THIS_MOMENT]\n")
	if timestampUTC != "" {
		if t, err := time.Parse(time.RFC3339, timestampUTC); err == nil {
			local := t.Add(-time.Duration(timezoneOffset) * time.Minute)
			sign := "+"
			offsetMinutes := -timezoneOffset
			if offsetMinutes < 0 {
				sign = "-"
				offsetMinutes = -offsetMinutes
			}
			offsetStr := fmt.Sprintf("%s%02d:%02d", sign, offsetMinutes/60, offsetMinutes%60)
			b.WriteString(fmt.Sprintf("<current_time>%s%s</current_time>\n", local.Format("2006-01-02 15:04:05"), offsetStr))
		}
	}
	b.WriteString(fmt.Sprintf("<human_input>\n%s\n</human_input>", humanInput))
	return b.String()
}
