package persona

import "strings"

const (
	// DefaultName is the companion name used when the caller leaves it blank.
	DefaultName = "Luna"
	// DefaultTone is the tone used when the caller leaves it empty.
	DefaultTone = "gentle"
)

// Config captures the companion identity supplied with every chat request.
// It is caller configuration, not durable server state.
type Config struct {
	PersonaName string `json:"personaName"`
	Tone        string `json:"tone"`
	UserName    string `json:"userName,omitempty"`
}

// Normalize applies the request defaults. The persona and user names are
// trimmed; the tone is only defaulted when empty and otherwise kept verbatim,
// so tones outside the catalog still reach the prompt.
func Normalize(cfg Config) Config {
	name := strings.TrimSpace(cfg.PersonaName)
	if name == "" {
		name = DefaultName
	}

	tone := cfg.Tone
	if tone == "" {
		tone = DefaultTone
	}

	return Config{
		PersonaName: name,
		Tone:        tone,
		UserName:    strings.TrimSpace(cfg.UserName),
	}
}

// Tone describes one of the tones offered to users.
type Tone struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Seed provides the tones offered by the chat page selector.
func Seed() []Tone {
	return []Tone{
		{ID: "gentle", Description: "soft, patient and reassuring"},
		{ID: "playful", Description: "light-hearted with a little teasing"},
		{ID: "cheerful", Description: "upbeat and encouraging"},
		{ID: "calm", Description: "steady, quiet and grounding"},
	}
}
