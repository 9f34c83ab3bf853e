package session

import (
	"strings"
)

// reminderKeywords trigger the skill activation reminder. Matching is by
// substring on the lowercased message.
var reminderKeywords = []string{
	"image", "generate", "edit", "model", "flux", "replicate",
	"video", "photo", "picture", "create", "make", "draw", "ai",
	"banana", "ml", "audio", "speech",
}

const reminderRule = "=================================================="

// NeedsReminder reports whether message mentions an AI/ML keyword.
func NeedsReminder(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range reminderKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// WithReminder prepends the skill activation reminder to message. Models
// already inspected in the session and the last model run are listed so
// the agent can reuse them.
func WithReminder(message string, inspected []string, last *ModelRun) string {
	var b strings.Builder
	b.WriteString(reminderRule + "\n")
	b.WriteString("SKILL ACTIVATION CHECK\n")
	b.WriteString(reminderRule + "\n\n")
	b.WriteString("CRITICAL: User message contains AI/ML keywords\n")
	b.WriteString("  -> Check the ai_models skill BEFORE responding\n")
	b.WriteString("  -> It can generate and edit images, create videos and run ML models\n")
	if len(inspected) > 0 {
		b.WriteString("  -> Models already inspected this session: " + strings.Join(inspected, ", ") + "\n")
	}
	if last != nil {
		b.WriteString("  -> Last model run: " + last.Model)
		if last.Prompt != "" {
			b.WriteString(" (prompt: " + last.Prompt + ")")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nACTION: Use list_tools and read_file to discover the AI/ML capabilities\n")
	b.WriteString(reminderRule + "\n\n")
	b.WriteString(message)
	return b.String()
}
