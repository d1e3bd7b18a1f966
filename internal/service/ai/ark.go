package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
)

// StreamingModel is the part of an eino chat model the Ark upstream needs.
type StreamingModel interface {
	Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)
}

// Ark streams completions through an eino chat model, typically the Volcengine
// Ark model built by config.UpstreamConfig.NewChatModel.
type Ark struct {
	chatModel StreamingModel
	logger    *slog.Logger
}

// NewArk wraps chatModel as an Upstream.
func NewArk(chatModel StreamingModel, logger *slog.Logger) *Ark {
	return &Ark{
		chatModel: chatModel,
		logger:    logger.With(slog.String("module", "ark")),
	}
}

func einoMessages(messages []chat.Message) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			msgs = append(msgs, schema.SystemMessage(msg.Content))
		case chat.RoleUser:
			msgs = append(msgs, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(msg.Content, nil))
		default:
			msgs = append(msgs, &schema.Message{Role: schema.RoleType(msg.Role), Content: msg.Content})
		}
	}
	return msgs
}

// Stream implements Upstream. Chunks without text are skipped.
func (a *Ark) Stream(ctx context.Context, messages []chat.Message) (*schema.StreamReader[string], error) {
	stream, err := a.chatModel.Stream(ctx, einoMessages(messages))
	if err != nil {
		return nil, fmt.Errorf("failed to stream ark output: %w", err)
	}

	a.logger.Debug("Ark stream opened", slog.Int("messages", len(messages)))
	return schema.StreamReaderWithConvert(stream, func(chunk *schema.Message) (string, error) {
		if chunk == nil || chunk.Content == "" {
			return "", schema.ErrNoValue
		}
		return chunk.Content, nil
	}), nil
}
