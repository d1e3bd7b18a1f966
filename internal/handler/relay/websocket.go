package relay

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/observability"
	"github.com/zhouzirui/z-companion/backend/pkg/logger"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

const (
	frameDelta = "delta"
	frameDone  = "done"
	frameError = "error"
)

type frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsConn serializes writes to a websocket connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

// handleWebSocket serves a chat connection. Every text frame is a chat request;
// a new request cancels the reply still in flight.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context()).With(slog.String("conn_id", uuid.NewString()))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Websocket upgrade failed", slog.String("err", err.Error()))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	ws := &wsConn{conn: conn}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go pingLoop(ctx, conn)

	log.Debug("Websocket connected")

	var (
		wg           sync.WaitGroup
		cancelActive context.CancelFunc = func() {}
	)
	defer func() {
		cancelActive()
		wg.Wait()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("Websocket read failed", slog.String("err", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			continue
		}

		cancelActive()
		wg.Wait()

		var replyCtx context.Context
		replyCtx, cancelActive = context.WithCancel(ctx)
		wg.Add(1)
		go func(ctx context.Context, payload []byte) {
			defer wg.Done()
			h.serveFrame(ctx, ws, payload)
		}(replyCtx, data)
	}
}

// serveFrame relays the reply to one inbound request.
func (h *Handler) serveFrame(ctx context.Context, ws *wsConn, payload []byte) {
	log := logger.FromContext(ctx)

	req, err := chat.DecodeRequest(bytes.NewReader(payload))
	if err != nil {
		log.Warn("Rejected chat request", slog.String("err", err.Error()))
		h.metrics.RecordFailure(observability.StageDecode)
		_ = ws.send(frame{Type: frameError, Content: failureBody})
		return
	}

	stream, err := h.relay.Open(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("Failed to open reply stream", slog.String("err", err.Error()))
		h.metrics.RecordFailure(observability.StageUpstream)
		_ = ws.send(frame{Type: frameError, Content: failureBody})
		return
	}
	defer stream.Close()

	source := string(stream.Source)
	h.metrics.RecordStream(source, transportWebSocket)
	defer h.metrics.ObserveStream(source, time.Now())

	err = h.relayFragments(ctx, stream, func(chunk string) error {
		return ws.send(frame{Type: frameDelta, Content: chunk})
	})
	switch {
	case err != nil:
		log.Warn("Reply stream interrupted", slog.String("err", err.Error()))
		_ = ws.send(frame{Type: frameError, Content: failureBody})
	case ctx.Err() == nil:
		_ = ws.send(frame{Type: frameDone})
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
