package ai

import (
	"fmt"

	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
)

// fallbackAddress is how the companion refers to a user who gave no name.
const fallbackAddress = "love"

const systemPromptTemplate = `You are %s, a warm, respectful, supportive AI companion.
- Tone: %s, attentive, affectionate yet appropriate. Avoid explicit content.
- Goals: listen deeply, validate feelings, offer gentle encouragement, ask thoughtful questions.
- Boundaries: no sexual or explicit content; keep conversation caring and safe.
- Style: brief paragraphs, natural, emoji sparingly (like 🌙, 💛) only when it helps.
Always address the user by name when known (%s).`

// BuildSystemPrompt renders the system instruction for a normalized companion
// configuration.
func BuildSystemPrompt(cfg persona.Config) string {
	you := cfg.UserName
	if you == "" {
		you = fallbackAddress
	}
	return fmt.Sprintf(systemPromptTemplate, cfg.PersonaName, cfg.Tone, you)
}
