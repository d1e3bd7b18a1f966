package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/z-companion/backend/internal/handler/persona"
	"github.com/zhouzirui/z-companion/backend/internal/handler/relay"
	middlewarePkg "github.com/zhouzirui/z-companion/backend/internal/middleware"
	personaModel "github.com/zhouzirui/z-companion/backend/internal/model/persona"
	"github.com/zhouzirui/z-companion/backend/internal/observability"
	"github.com/zhouzirui/z-companion/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. A nil gatherer disables the
// metrics endpoint.
func NewRouter(tones personaModel.Store, relaySvc relay.Relayer, metrics *observability.Metrics, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	personaHandler := persona.New(tones)
	relayHandler := relay.New(relaySvc, metrics)

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		relayHandler.RegisterRoutes(api)
	})

	return r
}
