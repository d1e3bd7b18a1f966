// Package fallback produces canned companion replies when no upstream
// provider is configured.
package fallback

import (
	"context"
	"time"
	"unicode/utf16"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
)

const (
	DefaultInterval  = 20 * time.Millisecond
	DefaultChunkSize = 8
)

// Templates returns the canned replies with userName interpolated.
func Templates(userName string) []string {
	greeting := userName
	if greeting == "" {
		greeting = "Hey"
	}
	thanks := ""
	if userName != "" {
		thanks = ", " + userName
	}

	return []string{
		greeting + ", I'm here for you. It sounds important. What feels most present right now?",
		"Thank you for sharing that" + thanks + ". I'm listening. What would feel supportive in this moment?",
		"I hear you. Would you like a gentle nudge forward, or just a caring ear today?",
	}
}

// SelectTemplate maps the two lengths onto one of the three templates.
func SelectTemplate(userTextLen, toneLen int) int {
	idx := (userTextLen + toneLen) % 3
	if idx < 0 {
		idx += 3
	}
	return idx
}

// textLen measures s in UTF-16 code units, matching how browsers count
// string length.
func textLen(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// Reply picks the reply for userText under a normalized configuration.
func Reply(userText string, cfg persona.Config) string {
	return Templates(cfg.UserName)[SelectTemplate(textLen(userText), textLen(cfg.Tone))]
}

// Generator paces a reply out as a fragment stream.
type Generator struct {
	interval  time.Duration
	chunkSize int
}

// NewGenerator returns a Generator emitting chunkSize characters every
// interval. Non-positive values fall back to the defaults.
func NewGenerator(interval time.Duration, chunkSize int) *Generator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	return &Generator{interval: interval, chunkSize: chunkSize}
}

// Stream emits the reply for userText in fixed-size rune chunks, one per tick,
// then ends the stream. It stops early when ctx is done or the reader is closed.
func (g *Generator) Stream(ctx context.Context, userText string, cfg persona.Config) *schema.StreamReader[string] {
	sr, sw := schema.Pipe[string](0)
	go g.emit(ctx, []rune(Reply(userText, cfg)), sw)
	return sr
}

func (g *Generator) emit(ctx context.Context, content []rune, sw *schema.StreamWriter[string]) {
	defer sw.Close()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for i := 0; i < len(content); {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		end := min(i+g.chunkSize, len(content))
		if closed := sw.Send(string(content[i:end]), nil); closed {
			return
		}
		i = end
	}
}
