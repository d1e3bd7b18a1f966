package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "OPENAI_API_KEY", "UPSTREAM_PROVIDER", "FALLBACK_INTERVAL", "FALLBACK_CHUNK_SIZE", "LOG_LEVEL", "LOG_FORMAT", "METRICS_ENABLED"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ProviderOpenAI, cfg.Upstream.Provider)
	assert.False(t, cfg.Upstream.Enabled())
	assert.Equal(t, "https://api.openai.com/v1", cfg.Upstream.OpenAIBaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.Upstream.OpenAIModel)
	assert.Equal(t, 20*time.Millisecond, cfg.Fallback.Interval)
	assert.Equal(t, 8, cfg.Fallback.ChunkSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadServerConfigAcceptsHostPort(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	server, err := loadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", server.Addr)
}

func TestLoadServerConfigRejectsSpaces(t *testing.T) {
	t.Setenv("PORT", "80 80")
	_, err := loadServerConfig()
	assert.Error(t, err)
}

func TestUpstreamEnabledFollowsCredential(t *testing.T) {
	t.Setenv("UPSTREAM_PROVIDER", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:9999/v1/")

	upstream, err := loadUpstreamConfig()
	require.NoError(t, err)
	assert.True(t, upstream.Enabled())
	assert.Equal(t, "http://localhost:9999/v1", upstream.OpenAIBaseURL)
}

func TestArkProviderNeedsModel(t *testing.T) {
	t.Setenv("UPSTREAM_PROVIDER", "ark")
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("ARK_MODEL", "")

	upstream, err := loadUpstreamConfig()
	require.NoError(t, err)
	assert.False(t, upstream.Enabled())
}

func TestInvalidProvider(t *testing.T) {
	t.Setenv("UPSTREAM_PROVIDER", "llama")
	_, err := loadUpstreamConfig()
	assert.Error(t, err)
}

func TestFallbackOverrides(t *testing.T) {
	t.Setenv("FALLBACK_INTERVAL", "5ms")
	t.Setenv("FALLBACK_CHUNK_SIZE", "0")

	fallback, err := loadFallbackConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, fallback.Interval)
	assert.Equal(t, 1, fallback.ChunkSize)
}

func TestFallbackRejectsBadInterval(t *testing.T) {
	t.Setenv("FALLBACK_INTERVAL", "soon")
	_, err := loadFallbackConfig()
	assert.Error(t, err)
}

func TestParseBoolEnvInvalid(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "maybe")
	_, err := parseBoolEnv("METRICS_ENABLED", true)
	assert.Error(t, err)
}

func TestLoadClientUsesExplicitStore(t *testing.T) {
	t.Setenv("CHAT_STORE", "/tmp/chat.db")
	t.Setenv("CHAT_ENDPOINT", "")
	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/chat.db", cfg.StorePath)
	assert.Equal(t, "http://localhost:8080/api/chat", cfg.Endpoint)
}
