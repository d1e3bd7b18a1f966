package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
)

// Upstream streams a completion for an ordered conversation. The returned
// reader yields text deltas only and reports io.EOF once the reply is complete.
// Errors returned by Stream itself mean no byte was produced.
type Upstream interface {
	Stream(ctx context.Context, messages []chat.Message) (*schema.StreamReader[string], error)
}

// UpstreamError reports a provider response that could not be streamed.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status %d", e.StatusCode)
}

// fragmentBuffer bounds the queue between the decoding goroutine and the
// consumer.
const fragmentBuffer = 16
