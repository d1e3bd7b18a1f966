package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	"github.com/zhouzirui/z-companion/backend/internal/service/ai"
	"github.com/zhouzirui/z-companion/backend/internal/service/fallback"
)

// Source names where the fragments of a reply come from.
type Source string

const (
	SourceUpstream Source = "upstream"
	SourceFallback Source = "fallback"
)

// Stream is an open reply. Callers must Close it.
type Stream struct {
	*schema.StreamReader[string]
	Source Source
}

// Service turns inbound chat requests into reply streams.
type Service struct {
	upstream  ai.Upstream
	generator *fallback.Generator
	tones     persona.Store
	logger    *slog.Logger
}

// NewService creates a relay service. A nil upstream selects the fallback
// generator for every request.
func NewService(upstream ai.Upstream, generator *fallback.Generator, tones persona.Store, logger *slog.Logger) *Service {
	if generator == nil {
		generator = fallback.NewGenerator(fallback.DefaultInterval, fallback.DefaultChunkSize)
	}
	return &Service{
		upstream:  upstream,
		generator: generator,
		tones:     tones,
		logger:    logger.With(slog.String("module", "relay")),
	}
}

// UpstreamEnabled reports whether replies come from the provider.
func (s *Service) UpstreamEnabled() bool {
	return s.upstream != nil
}

// Prepare normalizes the companion configuration of req and returns it with
// the full conversation: the system prompt followed by the caller messages in
// their original order.
func (s *Service) Prepare(req chat.Request) (persona.Config, []chat.Message) {
	var raw persona.Config
	raw.PersonaName, _ = chat.StringField(req.PersonaName)
	raw.UserName, _ = chat.StringField(req.UserName)
	raw.Tone, _ = chat.StringField(req.Tone)
	cfg := persona.Normalize(raw)

	history := req.ConversationMessages()
	messages := make([]chat.Message, 0, len(history)+1)
	messages = append(messages, chat.Message{Role: chat.RoleSystem, Content: ai.BuildSystemPrompt(cfg)})
	messages = append(messages, history...)
	return cfg, messages
}

// Open starts a reply for req. Errors mean nothing has been streamed.
func (s *Service) Open(ctx context.Context, req chat.Request) (*Stream, error) {
	cfg, messages := s.Prepare(req)

	if s.tones != nil && !s.tones.Recognized(cfg.Tone) {
		s.logger.Debug("Unrecognized tone passed through", slog.String("tone", cfg.Tone))
	}

	if s.upstream == nil {
		sr := s.generator.Stream(ctx, chat.LastUserContent(messages), cfg)
		return &Stream{StreamReader: sr, Source: SourceFallback}, nil
	}

	sr, err := s.upstream.Stream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to open upstream stream: %w", err)
	}
	return &Stream{StreamReader: sr, Source: SourceUpstream}, nil
}
