// Package client implements the streaming chat client: it keeps the local
// conversation, sends it to the relay and renders the reply as it arrives.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
)

// Apology replaces the reply when the relay cannot be reached or refuses the
// request.
const Apology = "Sorry, I ran into an issue. Could we try again?"

var (
	// ErrEmptyInput is returned by Send for blank input.
	ErrEmptyInput = errors.New("empty input")
	// ErrRelayFailed is returned by Send when the reply was replaced by Apology.
	ErrRelayFailed = errors.New("relay request failed")
)

// Conversation is the client side of a chat. Methods are safe for concurrent
// use. The change callback runs with the conversation locked and must not
// call back into it.
type Conversation struct {
	endpoint string
	client   *http.Client
	store    Store
	onChange func([]chat.Message)
	logger   *slog.Logger

	mu       sync.Mutex
	messages []chat.Message
	cfg      persona.Config
	gen      uint64
	cancel   context.CancelFunc
}

// New restores a conversation from store. httpClient and onChange may be nil.
func New(endpoint string, store Store, httpClient *http.Client, onChange func([]chat.Message), logger *slog.Logger) *Conversation {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Conversation{
		endpoint: endpoint,
		client:   httpClient,
		store:    store,
		onChange: onChange,
		logger:   logger.With(slog.String("module", "client")),
		cancel:   func() {},
	}
	c.load()
	return c
}

func (c *Conversation) load() {
	c.messages = []chat.Message{}
	if raw, ok := c.get(KeyHistory); ok {
		var history []chat.Message
		if err := json.Unmarshal([]byte(raw), &history); err != nil {
			c.logger.Warn("Discarding unreadable history", slog.String("err", err.Error()))
		} else if history != nil {
			c.messages = history
		}
	}

	c.cfg.PersonaName, _ = c.get(KeyPersonaName)
	if c.cfg.PersonaName == "" {
		c.cfg.PersonaName = persona.DefaultName
	}
	c.cfg.UserName, _ = c.get(KeyUserName)
	c.cfg.Tone, _ = c.get(KeyTone)
	if c.cfg.Tone == "" {
		c.cfg.Tone = persona.DefaultTone
	}
}

func (c *Conversation) get(key string) (string, bool) {
	v, ok, err := c.store.Get(key)
	if err != nil {
		c.logger.Warn("Failed to read store", slog.String("key", key), slog.String("err", err.Error()))
		return "", false
	}
	return v, ok
}

func (c *Conversation) set(key, value string) {
	if err := c.store.Set(key, value); err != nil {
		c.logger.Warn("Failed to write store", slog.String("key", key), slog.String("err", err.Error()))
	}
}

// changedLocked mirrors the history and publishes a snapshot. c.mu must be held.
func (c *Conversation) changedLocked() {
	raw, err := json.Marshal(c.messages)
	if err == nil {
		c.set(KeyHistory, string(raw))
	}
	if c.onChange != nil {
		c.onChange(c.snapshotLocked())
	}
}

func (c *Conversation) snapshotLocked() []chat.Message {
	return append([]chat.Message(nil), c.messages...)
}

// Messages returns a copy of the conversation.
func (c *Conversation) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Config returns the companion configuration sent with every request.
func (c *Conversation) Config() persona.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetPersonaName changes the companion name.
func (c *Conversation) SetPersonaName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.PersonaName = name
	c.set(KeyPersonaName, name)
}

// SetUserName changes the name the companion calls the user.
func (c *Conversation) SetUserName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.UserName = name
	c.set(KeyUserName, name)
}

// SetTone changes the companion tone.
func (c *Conversation) SetTone(tone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Tone = tone
	c.set(KeyTone, tone)
}

// Clear cancels the reply in flight and empties the history.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	c.gen++
	c.messages = []chat.Message{}
	c.changedLocked()
}

// Send appends text as a user turn and streams the reply into a new assistant
// turn. It returns once the reply ends, is superseded by another Send or Clear,
// or ctx is done. Interrupted replies keep what arrived.
func (c *Conversation) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	c.cancel()
	c.gen++
	gen := c.gen

	c.messages = append(c.messages, chat.Message{Role: chat.RoleUser, Content: text})
	payload := chat.Payload{
		Messages:    c.snapshotLocked(),
		PersonaName: c.cfg.PersonaName,
		UserName:    c.cfg.UserName,
		Tone:        c.cfg.Tone,
	}
	c.messages = append(c.messages, chat.Message{Role: chat.RoleAssistant})
	c.changedLocked()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	resp, err := c.post(ctx, payload)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("Relay request failed", slog.String("err", err.Error()))
		c.apologize(gen)
		return fmt.Errorf("%w: %v", ErrRelayFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Relay refused request", slog.Int("status", resp.StatusCode))
		c.apologize(gen)
		return fmt.Errorf("%w: status %d", ErrRelayFailed, resp.StatusCode)
	}

	c.consume(ctx, gen, resp.Body)
	return nil
}

func (c *Conversation) post(ctx context.Context, payload chat.Payload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	return c.client.Do(req)
}

// consume appends decoded text to the trailing assistant turn until body ends.
// Read failures end the reply silently.
func (c *Conversation) consume(ctx context.Context, gen uint64, body io.Reader) {
	r := transform.NewReader(body, unicode.UTF8.NewDecoder())
	buf := make([]byte, 4096)

	for {
		n, err := r.Read(buf)
		if n > 0 && !c.appendReply(gen, string(buf[:n])) {
			return
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				c.logger.Debug("Reply stream ended early", slog.String("err", err.Error()))
			}
			return
		}
	}
}

// appendReply extends the trailing assistant turn. It reports false once gen
// is no longer the newest stream.
func (c *Conversation) appendReply(gen uint64, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || len(c.messages) == 0 {
		return false
	}

	last := c.messages[len(c.messages)-1]
	last.Content += text
	c.messages[len(c.messages)-1] = last
	c.changedLocked()
	return true
}

func (c *Conversation) apologize(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || len(c.messages) == 0 {
		return
	}
	c.messages[len(c.messages)-1] = chat.Message{Role: chat.RoleAssistant, Content: Apology}
	c.changedLocked()
}
