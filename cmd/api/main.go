package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zhouzirui/z-companion/backend/internal/config"
	"github.com/zhouzirui/z-companion/backend/internal/handler"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	"github.com/zhouzirui/z-companion/backend/internal/observability"
	"github.com/zhouzirui/z-companion/backend/internal/service/ai"
	"github.com/zhouzirui/z-companion/backend/internal/service/fallback"
	"github.com/zhouzirui/z-companion/backend/internal/service/relay"
	"github.com/zhouzirui/z-companion/backend/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("err", err.Error()))
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		slog.Error("failed to set up logger", slog.String("err", err.Error()))
		os.Exit(1)
	}
	if envErr != nil {
		log.Warn("failed to load .env file, continuing with system environment variables only", slog.String("err", envErr.Error()))
	}

	var (
		metrics  *observability.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(reg)
		gatherer = reg
	}

	tones := persona.NewMemoryStore(persona.Seed())
	upstream := newUpstream(ctx, cfg.Upstream, metrics, log)
	relaySvc := relay.NewService(upstream, fallback.NewGenerator(cfg.Fallback.Interval, cfg.Fallback.ChunkSize), tones, log)

	router := handler.NewRouter(tones, relaySvc, metrics, gatherer, log)

	startServer(ctx, cfg.Server, router, log)
}

// newUpstream returns the configured provider, or nil to serve fallback
// replies.
func newUpstream(ctx context.Context, cfg config.UpstreamConfig, metrics *observability.Metrics, log *slog.Logger) ai.Upstream {
	if !cfg.Enabled() {
		log.Info("upstream credential not configured, serving fallback replies", slog.String("provider", cfg.Provider))
		return nil
	}

	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			log.Warn("failed to initialize ark model, serving fallback replies", slog.String("err", err.Error()))
			return nil
		}
		log.Info("ark upstream initialized", slog.String("model", cfg.ArkModel))
		return ai.NewArk(chatModel, log)
	default:
		log.Info("openai upstream initialized", slog.String("base_url", cfg.OpenAIBaseURL), slog.String("model", cfg.OpenAIModel))
		return ai.NewOpenAI(ai.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			OnMalformed: metrics.RecordMalformedLines,
		}, log)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *slog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("companion relay listening", slog.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		log.Error("server error", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
