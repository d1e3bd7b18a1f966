package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	"github.com/zhouzirui/z-companion/backend/pkg/logger"
)

type recorder struct {
	mu        sync.Mutex
	snapshots [][]chat.Message
}

func (r *recorder) record(msgs []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, msgs)
}

func (r *recorder) lastReply() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return ""
	}
	last := r.snapshots[len(r.snapshots)-1]
	if len(last) == 0 {
		return ""
	}
	return last[len(last)-1].Content
}

func TestNewLoadsDefaults(t *testing.T) {
	c := New("http://unused", NewMemoryStore(), nil, nil, logger.Discard())
	assert.Empty(t, c.Messages())
	assert.Equal(t, persona.Config{PersonaName: "Luna", Tone: "gentle"}, c.Config())
}

func TestNewDiscardsCorruptHistory(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(KeyHistory, "{not json"))
	require.NoError(t, store.Set(KeyPersonaName, ""))
	require.NoError(t, store.Set(KeyUserName, "Sam"))
	require.NoError(t, store.Set(KeyTone, "calm"))

	c := New("http://unused", store, nil, nil, logger.Discard())
	assert.Empty(t, c.Messages())
	assert.Equal(t, persona.Config{PersonaName: "Luna", Tone: "calm", UserName: "Sam"}, c.Config())
}

func TestSendRejectsBlankInput(t *testing.T) {
	c := New("http://unused", NewMemoryStore(), nil, nil, logger.Discard())
	assert.ErrorIs(t, c.Send(context.Background(), " \n\t"), ErrEmptyInput)
	assert.Empty(t, c.Messages())
}

func TestSendStreamsReplyAcrossRuneBoundaries(t *testing.T) {
	moon := []byte("🌙")
	var got chat.Payload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		flusher := w.(http.Flusher)
		for _, part := range [][]byte{[]byte("Hi "), moon[:2], append(moon[2:], []byte(" Sam")...)} {
			_, _ = w.Write(part)
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	store := NewMemoryStore()
	c := New(srv.URL, store, srv.Client(), rec.record, logger.Discard())
	c.SetUserName("Sam")

	require.NoError(t, c.Send(context.Background(), "  hello  "))

	assert.Equal(t, []chat.Message{
		{Role: chat.RoleUser, Content: "hello"},
		{Role: chat.RoleAssistant, Content: "Hi 🌙 Sam"},
	}, c.Messages())

	assert.Equal(t, []chat.Message{{Role: chat.RoleUser, Content: "hello"}}, got.Messages)
	assert.Equal(t, "Luna", got.PersonaName)
	assert.Equal(t, "Sam", got.UserName)
	assert.Equal(t, "gentle", got.Tone)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.snapshots)
	assert.Equal(t, "", rec.snapshots[0][1].Content, "placeholder is published before any byte")
	prev := ""
	for _, snap := range rec.snapshots {
		reply := snap[len(snap)-1].Content
		assert.True(t, utf8.ValidString(reply), "snapshot %q is not valid utf-8", reply)
		assert.True(t, strings.HasPrefix(reply, prev))
		prev = reply
	}

	raw, ok, err := store.Get(KeyHistory)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, "Hi 🌙 Sam")
}

func TestSendReplacesPlaceholderOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Sorry, something went wrong.", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, NewMemoryStore(), srv.Client(), nil, logger.Discard())
	err := c.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrRelayFailed)

	assert.Equal(t, []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: Apology},
	}, c.Messages())
}

func TestSendTransportErrorApologizes(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, NewMemoryStore(), nil, nil, logger.Discard())
	assert.ErrorIs(t, c.Send(context.Background(), "hi"), ErrRelayFailed)
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, Apology, msgs[1].Content)
}

// blockingServer replies with prefix on the first request and holds it open;
// later requests get their full reply immediately.
func blockingServer(t *testing.T, prefix string, replies ...string) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		n := calls
		calls++
		mu.Unlock()

		flusher := w.(http.Flusher)
		if n == 0 {
			fmt.Fprint(w, prefix)
			flusher.Flush()
			select {
			case <-r.Context().Done():
			case <-release:
			}
			return
		}
		fmt.Fprint(w, replies[n-1])
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv
}

func TestSendSupersedesInFlightReply(t *testing.T) {
	srv := blockingServer(t, "first", "second")
	rec := &recorder{}
	c := New(srv.URL, NewMemoryStore(), srv.Client(), rec.record, logger.Discard())

	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "one") }()

	require.Eventually(t, func() bool { return rec.lastReply() == "first" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Send(context.Background(), "two"))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded send did not return")
	}

	assert.Equal(t, []chat.Message{
		{Role: chat.RoleUser, Content: "one"},
		{Role: chat.RoleAssistant, Content: "first"},
		{Role: chat.RoleUser, Content: "two"},
		{Role: chat.RoleAssistant, Content: "second"},
	}, c.Messages())
}

func TestClearCancelsInFlightReply(t *testing.T) {
	srv := blockingServer(t, "partial")
	rec := &recorder{}
	store := NewMemoryStore()
	c := New(srv.URL, store, srv.Client(), rec.record, logger.Discard())

	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "hello") }()
	require.Eventually(t, func() bool { return rec.lastReply() == "partial" }, 2*time.Second, 5*time.Millisecond)

	c.Clear()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return after clear")
	}
	assert.Empty(t, c.Messages())

	raw, _, err := store.Get(KeyHistory)
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)
}

func TestSendCancelledByCallerKeepsPartialReply(t *testing.T) {
	srv := blockingServer(t, "partial")
	rec := &recorder{}
	c := New(srv.URL, NewMemoryStore(), srv.Client(), rec.record, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Send(ctx, "hello") }()
	require.Eventually(t, func() bool { return rec.lastReply() == "partial" }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "partial", c.Messages()[1].Content)
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	store, err := OpenBoltStore(path)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "I'm here.")
	}))
	defer srv.Close()

	c := New(srv.URL, store, srv.Client(), nil, logger.Discard())
	c.SetPersonaName("Nova")
	c.SetTone("playful")
	require.NoError(t, c.Send(context.Background(), "hi"))
	require.NoError(t, store.Close())

	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	restored := New(srv.URL, reopened, nil, nil, logger.Discard())
	assert.Equal(t, persona.Config{PersonaName: "Nova", Tone: "playful"}, restored.Config())
	assert.Equal(t, []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "I'm here."},
	}, restored.Messages())

	_, ok, err := reopened.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreMissingKey(t *testing.T) {
	_, ok, err := NewMemoryStore().Get(KeyTone)
	assert.NoError(t, err)
	assert.False(t, ok)
}
