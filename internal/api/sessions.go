package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/identity"
)

// HandleListSessions handles GET /api/sessions: one cursor-paginated page
// of the caller's sessions.
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	ownerToken := identity.OwnerTokenFromContext(r.Context())
	if ownerToken == "" {
		Error(w, http.StatusUnauthorized, "missing anonymous identity")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			Error(w, http.StatusBadRequest, "limit must be 1-100")
			return
		}
		limit = n
	}
	agentID := r.URL.Query().Get("agentId")
	cursor := r.URL.Query().Get("cursor")

	page, err := h.repo.ListSessions(r.Context(), ownerToken, agentID, cursor, limit)
	if err != nil {
		if strings.Contains(err.Error(), "malformed cursor") {
			Error(w, http.StatusBadRequest, "malformed cursor")
			return
		}
		slog.Error("list sessions failed", "error", err)
		storeError(w, err)
		return
	}
	JSON(w, http.StatusOK, page)
}

// HandleDeleteSession handles DELETE /api/sessions/{sessionID}: remove the
// session with its messages and reports.
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ownerToken := identity.OwnerTokenFromContext(r.Context())
	if ownerToken == "" {
		Error(w, http.StatusUnauthorized, "missing anonymous identity")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.repo.DeleteSession(r.Context(), sessionID, ownerToken); err != nil {
		storeError(w, err)
		return
	}
	slog.Info("session deleted", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// HandlePatchCanvas handles PATCH /api/sessions/{sessionID}/canvas: merge a
// partial canvas update, as flushed by the client debouncer, and return the
// merged canvas.
func (h *Handler) HandlePatchCanvas(w http.ResponseWriter, r *http.Request) {
	ownerToken := identity.OwnerTokenFromContext(r.Context())
	if ownerToken == "" {
		Error(w, http.StatusUnauthorized, "missing anonymous identity")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	var patch canvas.Record
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid canvas patch")
		return
	}

	merged, err := h.repo.PatchCanvas(r.Context(), sessionID, ownerToken, patch)
	if err != nil {
		storeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"canvasData": merged})
}

// HandleListReports handles GET /api/sessions/{sessionID}/reports: the
// newest canvas snapshots of the session.
func (h *Handler) HandleListReports(w http.ResponseWriter, r *http.Request) {
	ownerToken := identity.OwnerTokenFromContext(r.Context())
	if ownerToken == "" {
		Error(w, http.StatusUnauthorized, "missing anonymous identity")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			Error(w, http.StatusBadRequest, "limit must be 1-100")
			return
		}
		limit = n
	}

	reports, err := h.repo.ListReports(r.Context(), sessionID, ownerToken, limit)
	if err != nil {
		storeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"reports": reports})
}
