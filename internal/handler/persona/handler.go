package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	"github.com/zhouzirui/z-companion/backend/pkg/utils"
)

// Handler serves the companion defaults a chat page needs before its first
// request.
type Handler struct {
	tones persona.Store
}

// New creates a persona handler.
func New(tones persona.Store) *Handler {
	return &Handler{tones: tones}
}

// RegisterRoutes registers the persona routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/persona", h.handleDefaults)
}

type defaultsResponse struct {
	PersonaName string         `json:"personaName"`
	Tone        string         `json:"tone"`
	Tones       []persona.Tone `json:"tones"`
}

func (h *Handler) handleDefaults(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, defaultsResponse{
		PersonaName: persona.DefaultName,
		Tone:        persona.DefaultTone,
		Tones:       h.tones.List(),
	})
}
