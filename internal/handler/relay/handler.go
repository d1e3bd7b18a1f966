package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/tmaxmax/go-sse"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/observability"
	relayservice "github.com/zhouzirui/z-companion/backend/internal/service/relay"
	"github.com/zhouzirui/z-companion/backend/pkg/logger"
)

// failureBody is the only failure detail a caller ever sees.
const failureBody = "Sorry, something went wrong."

const (
	transportPlain     = "plain"
	transportSSE       = "sse"
	transportWebSocket = "websocket"
)

var (
	deltaEvent = sse.Type("delta")
	doneEvent  = sse.Type("done")
	errorEvent = sse.Type("error")
)

// Relayer opens reply streams for chat requests.
type Relayer interface {
	Open(ctx context.Context, req chat.Request) (*relayservice.Stream, error)
}

// Handler serves the chat relay endpoints.
type Handler struct {
	relay    Relayer
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

// New creates a relay handler. metrics may be nil.
func New(relay Relayer, metrics *observability.Metrics) *Handler {
	return &Handler{
		relay:   relay,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes registers the relay routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/chat/ws", h.handleWebSocket)
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// open decodes the request body and starts a reply. Failures are logged,
// counted and answered with the generic 500.
func (h *Handler) open(w http.ResponseWriter, r *http.Request) (*relayservice.Stream, bool) {
	log := logger.FromContext(r.Context())

	req, err := chat.DecodeRequest(r.Body)
	if err != nil {
		log.Warn("Rejected chat request", slog.String("err", err.Error()))
		h.metrics.RecordFailure(observability.StageDecode)
		respondFailure(w)
		return nil, false
	}

	stream, err := h.relay.Open(r.Context(), req)
	if err != nil {
		log.Error("Failed to open reply stream", slog.String("err", err.Error()))
		h.metrics.RecordFailure(observability.StageUpstream)
		respondFailure(w)
		return nil, false
	}
	return stream, true
}

func respondFailure(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, failureBody)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	stream, ok := h.open(w, r)
	if !ok {
		return
	}
	defer stream.Close()

	source := string(stream.Source)
	started := time.Now()
	defer h.metrics.ObserveStream(source, started)

	if wantsEventStream(r) {
		h.metrics.RecordStream(source, transportSSE)
		h.serveEventStream(w, r, stream)
		return
	}
	h.metrics.RecordStream(source, transportPlain)
	h.servePlain(w, r, stream)
}

// relayFragments forwards every fragment to write until the stream ends, the
// request is cancelled or write fails. The returned error is non-nil only for
// a stream failure after the reply started.
func (h *Handler) relayFragments(ctx context.Context, stream *relayservice.Stream, write func(string) error) error {
	source := string(stream.Source)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			h.metrics.RecordFailure(observability.StageStream)
			return err
		}
		if chunk == "" {
			continue
		}
		if err := write(chunk); err != nil {
			// The client went away.
			return nil
		}
		h.metrics.RecordFragment(source)
	}
}

func (h *Handler) servePlain(w http.ResponseWriter, r *http.Request, stream *relayservice.Stream) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	err := h.relayFragments(r.Context(), stream, func(chunk string) error {
		if _, err := io.WriteString(w, chunk); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err != nil {
		logger.FromContext(r.Context()).Warn("Reply stream interrupted", slog.String("err", err.Error()))
	}
}

func (h *Handler) serveEventStream(w http.ResponseWriter, r *http.Request, stream *relayservice.Stream) {
	log := logger.FromContext(r.Context())

	w.Header().Set("Cache-Control", "no-store")
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		log.Error("Failed to upgrade to event stream", slog.String("err", err.Error()))
		return
	}

	send := func(typ sse.EventType, data string) error {
		msg := &sse.Message{Type: typ}
		msg.AppendData(data)
		if err := sess.Send(msg); err != nil {
			return err
		}
		return sess.Flush()
	}

	err = h.relayFragments(r.Context(), stream, func(chunk string) error {
		return send(deltaEvent, chunk)
	})
	switch {
	case err != nil:
		log.Warn("Reply stream interrupted", slog.String("err", err.Error()))
		_ = send(errorEvent, failureBody)
	case r.Context().Err() == nil:
		_ = send(doneEvent, string(stream.Source))
	}
}
