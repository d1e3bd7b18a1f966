package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting of the relay service.
type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Fallback FallbackConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	upstream, err := loadUpstreamConfig()
	if err != nil {
		return nil, err
	}

	fallback, err := loadFallbackConfig()
	if err != nil {
		return nil, err
	}

	log, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	metricsEnabled, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Upstream: upstream,
		Fallback: fallback,
		Log:      log,
		Metrics:  MetricsConfig{Enabled: metricsEnabled},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

// loadServerConfig parses the listen address.
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// ":8080" and "127.0.0.1:8080" are used as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// UpstreamConfig describes the completion provider. The credential of the
// selected provider is the only switch between live and fallback replies.
type UpstreamConfig struct {
	Provider string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	ArkAPIKey      string
	ArkModel       string
	ArkBaseURL     string
	ArkRegion      string
	ArkTemperature *float64
	ArkTopP        *float64
	ArkMaxTokens   *int
}

// Enabled reports whether a credential is configured for the selected provider.
func (c UpstreamConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.ArkAPIKey != "" && c.ArkModel != ""
	default:
		return c.OpenAIAPIKey != ""
	}
}

// NewChatModel creates the Ark chat model described by the configuration.
func (c UpstreamConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.ArkAPIKey == "" || c.ArkModel == "" {
		return nil, fmt.Errorf("ark credential or model missing, set ARK_API_KEY and ARK_MODEL")
	}

	var temperature *float32
	if c.ArkTemperature != nil {
		val := float32(*c.ArkTemperature)
		temperature = &val
	}

	var topP *float32
	if c.ArkTopP != nil {
		val := float32(*c.ArkTopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      c.ArkAPIKey,
		Model:       c.ArkModel,
		MaxTokens:   c.ArkMaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadUpstreamConfig() (UpstreamConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("UPSTREAM_PROVIDER", ProviderOpenAI))
	if provider != ProviderOpenAI && provider != ProviderArk {
		return UpstreamConfig{}, fmt.Errorf("invalid UPSTREAM_PROVIDER value %q: want %s or %s", provider, ProviderOpenAI, ProviderArk)
	}

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return UpstreamConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return UpstreamConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return UpstreamConfig{}, err
	}

	return UpstreamConfig{
		Provider:       provider,
		OpenAIAPIKey:   strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:  strings.TrimSuffix(getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
		OpenAIModel:    getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		ArkAPIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkModel:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		ArkTemperature: temperature,
		ArkTopP:        topP,
		ArkMaxTokens:   maxTokens,
	}, nil
}

// FallbackConfig paces the local reply generator.
type FallbackConfig struct {
	Interval  time.Duration
	ChunkSize int
}

func loadFallbackConfig() (FallbackConfig, error) {
	interval, err := parseDurationEnv("FALLBACK_INTERVAL", 20*time.Millisecond)
	if err != nil {
		return FallbackConfig{}, err
	}
	if interval <= 0 {
		return FallbackConfig{}, fmt.Errorf("invalid FALLBACK_INTERVAL value %q: must be positive", interval)
	}

	chunkSize := 8
	if override, err := parseOptionalIntEnv("FALLBACK_CHUNK_SIZE"); err != nil {
		return FallbackConfig{}, err
	} else if override != nil {
		if *override < 1 {
			chunkSize = 1
		} else {
			chunkSize = *override
		}
	}

	return FallbackConfig{Interval: interval, ChunkSize: chunkSize}, nil
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() (LogConfig, error) {
	level := strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))
	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text"))
	if format != "text" && format != "json" {
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value %q: want text or json", format)
	}
	return LogConfig{Level: level, Format: format}, nil
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

// ClientConfig configures the terminal chat client.
type ClientConfig struct {
	Endpoint  string
	StorePath string
	Log       LogConfig
}

// LoadClient reads the chat client configuration from environment variables.
func LoadClient() (*ClientConfig, error) {
	log, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	storePath := strings.TrimSpace(os.Getenv("CHAT_STORE"))
	if storePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("error getting user config dir: %w", err)
		}
		storePath = filepath.Join(dir, "z-companion", "history.db")
	}

	return &ClientConfig{
		Endpoint:  getEnvOrDefault("CHAT_ENDPOINT", "http://localhost:8080/api/chat"),
		StorePath: storePath,
		Log:       log,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
