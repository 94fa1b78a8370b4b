package learning

import (
	"fmt"
	"strings"

	"github.com/wowyuarm/nexus/internal/busmodel"
)

const maxHistoryLineContent = 200

// formatHistoryForPrompt renders the last historyWindow messages as a
// compact, role-labeled transcript for the extraction prompt.
func formatHistoryForPrompt(history []busmodel.Message) string {
	if len(history) == 0 {
		return "(No recent conversation history)"
	}

	n := len(history)
	if n > historyWindow {
		n = historyWindow
	}

	lines := make([]string, 0, n)
	for _, msg := range history[:n] {
		lines = append(lines, formatHistoryLine(msg))
	}
	return strings.Join(lines, "\n")
}

func formatHistoryLine(msg busmodel.Message) string {
	role := roleDisplay(msg.Role)
	content, _ := msg.AsText()
	if len(content) > maxHistoryLineContent {
		content = content[:maxHistoryLineContent-3] + "..."
	}
	timestamp := msg.Timestamp.UTC().Format("2006-01-02T15:04:05")
	return fmt.Sprintf("[%s] %s: %s", timestamp, role, content)
}

func roleDisplay(role busmodel.Role) string {
	switch role {
	case busmodel.RoleHuman:
		return "Human"
	case busmodel.RoleAI:
		return "Nexus"
	default:
		lower := strings.ToLower(string(role))
		if lower == "" {
			return lower
		}
		return strings.ToUpper(lower[:1]) + lower[1:]
	}
}

// buildLearningPrompt asks the model to fold formattedHistory into
// existingProfile, producing an updated "friends profile" narrative
// block — the content the Context Builder later injects back in as
// prompt_overrides.friends_profile.
func buildLearningPrompt(existingProfile, formattedHistory string) string {
	if existingProfile == "" {
		existingProfile = "(still getting to know this person — nothing recorded yet)"
	}
	return fmt.Sprintf(`You are a thoughtful friend, keeping a private understanding of someone you talk with regularly. Your job is to update that understanding based on the recent conversation below.

Existing profile (what you currently understand about them):
%s

Recent conversation history (most recent %d messages):
%s

Update instructions:
1. Keep what's already confirmed and valuable — it's the foundation.
2. From the recent conversation, notice new interests, preferences, ways of thinking, and any background they've shared. Try to capture what's distinctive about them.
3. If anything in the existing understanding now looks outdated or wrong, gently correct it.
4. Write the output as a concise, natural paragraph (or a few short paragraphs) — no bullet lists, no headers — something that could be dropped directly into a system prompt as a standing note about this person.

Language: match the language used in the conversation history.
Tone: warm, sincere, like a friend who genuinely pays attention.

Output the complete updated profile now (it replaces the existing one entirely):`, existingProfile, historyWindow, formattedHistory)
}
