// Package api provides HTTP handlers for the BizLens API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bizlens/bizlens/internal/chat"
	"github.com/bizlens/bizlens/internal/config"
	"github.com/bizlens/bizlens/internal/domain"
	"github.com/bizlens/bizlens/internal/store"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

// Handler provides the HTTP surface over the chat service and the store.
type Handler struct {
	repo        store.Repository
	chat        *chat.Service
	rateLimiter *RateLimiter
	cfg         *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, chatSvc *chat.Service, cfg *config.Config) *Handler {
	return &Handler{
		repo:        repo,
		chat:        chatSvc,
		rateLimiter: NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		cfg:         cfg,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChatTurn)
		r.Get("/chat", h.HandleHydrate)
		r.Get("/presets", h.HandleListPresets)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.HandleListSessions)
			r.Delete("/{sessionID}", h.HandleDeleteSession)
			r.Patch("/{sessionID}/canvas", h.HandlePatchCanvas)
			r.Get("/{sessionID}/reports", h.HandleListReports)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// storeError maps repository errors onto HTTP status codes.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, domain.ErrForbidden):
		Error(w, http.StatusForbidden, "not the session owner")
	default:
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
