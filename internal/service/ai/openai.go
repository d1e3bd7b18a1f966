package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cloudwego/eino/schema"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
)

// OpenAIConfig configures an OpenAI compatible chat-completions upstream.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// HTTPClient defaults to a client without timeouts; a stalled upstream is
	// bounded only by the request context.
	HTTPClient *http.Client

	// OnMalformed, when set, receives the number of malformed data lines seen
	// in each completed stream.
	OnMalformed func(n int)
}

// OpenAI streams completions from an OpenAI compatible endpoint and decodes
// its SSE framing into plain text deltas.
type OpenAI struct {
	apiKey      string
	endpoint    string
	model       string
	client      *http.Client
	onMalformed func(int)

	logger *slog.Logger
}

// NewOpenAI creates an OpenAI upstream.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAI{
		apiKey:      cfg.APIKey,
		endpoint:    cfg.BaseURL + "/chat/completions",
		model:       cfg.Model,
		client:      client,
		onMalformed: cfg.OnMalformed,
		logger:      logger.With(slog.String("module", "openai")),
	}
}

func openAIMessages(messages []chat.Message) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return msgs
}

// Stream issues the completion request and returns a reader of text deltas.
// A non-2xx response fails fast with *UpstreamError; there is no retry.
func (o *OpenAI) Stream(ctx context.Context, messages []chat.Message) (*schema.StreamReader[string], error) {
	jsonBody, err := json.Marshal(goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: openAIMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			resp.Body.Close()
		}
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	sr, sw := schema.Pipe[string](fragmentBuffer)
	go o.decode(ctx, resp.Body, sw)
	return sr, nil
}

// decode owns the response body until the upstream is exhausted, the consumer
// closes its reader, or ctx is cancelled.
func (o *OpenAI) decode(ctx context.Context, body io.ReadCloser, sw *schema.StreamWriter[string]) {
	defer sw.Close()
	defer body.Close()

	stats, err := DecodeSSE(body, func(delta string) bool {
		return !sw.Send(delta, nil)
	})

	if o.onMalformed != nil {
		o.onMalformed(stats.Malformed)
	}
	if stats.Malformed > 0 {
		o.logger.Debug("Dropped malformed upstream lines", slog.Int("count", stats.Malformed))
	}

	if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	o.logger.Warn("Upstream stream interrupted",
		slog.Int("deltas", stats.Deltas),
		slog.String("err", err.Error()))
	sw.Send("", fmt.Errorf("error reading response: %w", err))
}
