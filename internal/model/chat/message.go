package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxRequestBytes caps the size of an inbound relay payload.
const maxRequestBytes = 4 << 20

// ErrInvalidRequest reports a relay payload that is not a JSON object.
var ErrInvalidRequest = errors.New("request body must be a JSON object")

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. A conversation is an ordered slice of
// messages, oldest first.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the inbound relay payload. Fields are kept raw so that values of
// the wrong JSON type degrade to their defaults instead of failing the request.
type Request struct {
	Messages    json.RawMessage `json:"messages"`
	PersonaName json.RawMessage `json:"personaName"`
	UserName    json.RawMessage `json:"userName"`
	Tone        json.RawMessage `json:"tone"`
}

// DecodeRequest reads a relay payload from r. The body must hold exactly one
// JSON object; individual fields are validated lazily by the accessors.
func DecodeRequest(r io.Reader) (Request, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxRequestBytes+1))
	if err != nil {
		return Request{}, fmt.Errorf("error reading request: %w", err)
	}
	if len(body) > maxRequestBytes {
		return Request{}, fmt.Errorf("request exceeds %d bytes", maxRequestBytes)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return Request{}, ErrInvalidRequest
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, fmt.Errorf("error decoding request: %w", err)
	}
	return req, nil
}

// ConversationMessages returns the caller supplied history. Anything other than
// a JSON array yields an empty history; array elements that are not message
// objects are dropped.
func (r Request) ConversationMessages() []Message {
	raw := bytes.TrimSpace(r.Messages)
	if len(raw) == 0 || raw[0] != '[' {
		return []Message{}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []Message{}
	}

	messages := make([]Message, 0, len(items))
	for _, item := range items {
		if !bytes.HasPrefix(bytes.TrimSpace(item), []byte("{")) {
			continue
		}
		var msg Message
		if err := json.Unmarshal(item, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

// StringField decodes raw as a JSON string. The second result is false when the
// value is absent or not a string.
func StringField(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// LastUserContent scans from the end and returns the content of the most
// recent user message, or "" when there is none.
func LastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// Payload is the outbound request a client sends to the relay.
type Payload struct {
	Messages    []Message `json:"messages"`
	PersonaName string    `json:"personaName"`
	UserName    string    `json:"userName"`
	Tone        string    `json:"tone"`
}
