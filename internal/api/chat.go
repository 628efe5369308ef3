package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/chat"
	"github.com/bizlens/bizlens/internal/domain"
	"github.com/bizlens/bizlens/internal/identity"
)

// HandleChatTurn handles POST /api/chat: run one consulting turn and stream
// the reply over SSE.
func (h *Handler) HandleChatTurn(w http.ResponseWriter, r *http.Request) {
	ownerToken := identity.OwnerTokenFromContext(r.Context())
	if ownerToken == "" {
		Error(w, http.StatusUnauthorized, "missing anonymous identity")
		return
	}

	if !h.rateLimiter.Allow(ownerToken) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)

	var req chat.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	req.OwnerToken = ownerToken

	reqID := chiMiddleware.GetReqID(r.Context())
	slog.Info("chat turn",
		"session_id", req.SessionID,
		"agent_id", req.PresetID,
		"auto", req.Auto,
		"message_length", len(req.Message),
		"request_id", reqID,
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	for ev, err := range h.chat.Turn(r.Context(), req) {
		if err != nil {
			slog.Error("chat turn failed", "error", err, "request_id", reqID)
			if writeErr := writeSSE(w, "error", turnErrorPayload(err)); writeErr != nil {
				slog.Warn("failed to write SSE error event", "error", writeErr)
				return
			}
			flusher.Flush()
			return
		}

		data, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("failed to marshal turn event", "error", err)
			if writeErr := writeSSE(w, "error", `{"error":"failed to serialize event"}`); writeErr != nil {
				slog.Warn("failed to write SSE serialization error", "error", writeErr)
			}
			flusher.Flush()
			return
		}
		if err := writeSSE(w, "message", string(data)); err != nil {
			slog.Warn("failed to write SSE message event", "error", err)
			return
		}
		flusher.Flush()
	}
}

// turnErrorPayload keeps error bodies terse and typed. Ownership failures
// surface as such so the client can clear a stale session ID.
func turnErrorPayload(err error) string {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return `{"error":"not the session owner"}`
	case errors.Is(err, domain.ErrNotFound):
		return `{"error":"session not found"}`
	default:
		return `{"error":"turn failed"}`
	}
}

// hydrateResponse is the GET /api/chat body: everything the client needs to
// rebuild a session view.
type hydrateResponse struct {
	SessionID string               `json:"sessionId"`
	AgentID   string               `json:"agentId"`
	Title     string               `json:"title,omitempty"`
	Canvas    canvas.Record        `json:"canvasData"`
	Messages  []canvas.ChatMessage `json:"messages"`
}

// HandleHydrate handles GET /api/chat?sessionId=...: return the persisted
// session state for restore.
func (h *Handler) HandleHydrate(w http.ResponseWriter, r *http.Request) {
	ownerToken := identity.OwnerTokenFromContext(r.Context())
	if ownerToken == "" {
		Error(w, http.StatusUnauthorized, "missing anonymous identity")
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	sess, err := h.repo.GetSession(r.Context(), sessionID, ownerToken)
	if err != nil {
		storeError(w, err)
		return
	}
	msgs, err := h.repo.ListMessages(r.Context(), sessionID, ownerToken)
	if err != nil {
		storeError(w, err)
		return
	}

	JSON(w, http.StatusOK, hydrateResponse{
		SessionID: sess.ID,
		AgentID:   sess.AgentID,
		Title:     sess.Title,
		Canvas:    sess.Canvas,
		Messages:  wireMessages(msgs),
	})
}

// wireMessages converts stored messages to the transport shape the
// extractor consumes.
func wireMessages(msgs []domain.Message) []canvas.ChatMessage {
	out := make([]canvas.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		wire := canvas.ChatMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Unix(),
		}
		for _, call := range m.ToolCalls {
			raw, err := json.Marshal(call)
			if err != nil {
				slog.Warn("failed to encode tool call", "message_id", m.ID, "error", err)
				continue
			}
			wire.ToolInvocations = append(wire.ToolInvocations, raw)
		}
		out = append(out, wire)
	}
	return out
}
