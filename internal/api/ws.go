package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/bizlens/bizlens/internal/chat"
	"github.com/bizlens/bizlens/internal/identity"
)

// wsTurn is one inbound websocket frame: a consulting turn to run.
type wsTurn struct {
	Type string `json:"type"`
	chat.TurnRequest
}

// wsError is an outbound error frame. Turn events are sent in their JSON
// form directly.
type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// WebSocketHandler runs consulting turns over a persistent websocket, one
// turn at a time per connection.
type WebSocketHandler struct {
	chat          *chat.Service
	rateLimiter   *RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new websocket chat handler.
func NewWebSocketHandler(chatSvc *chat.Service, rl *RateLimiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		chat:          chatSvc,
		rateLimiter:   rl,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerToken := identity.OwnerTokenFromContext(r.Context())
	if ownerToken == "" {
		Error(w, http.StatusUnauthorized, "missing anonymous identity")
		return
	}
	slog.Info("websocket chat connected", "ip", identity.IPFromRequest(r))

	opts := &websocket.AcceptOptions{}
	if h.isDev {
		opts.OriginPatterns = []string{"*"}
	} else if h.allowedOrigin != "" {
		opts.OriginPatterns = []string{h.allowedOrigin}
	}

	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("websocket close failed", "error", closeErr)
		}
	}()

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				return
			}
			slog.Debug("websocket read failed", "error", err)
			return
		}

		var turn wsTurn
		if err := json.Unmarshal(data, &turn); err != nil || turn.Type != "turn" {
			h.writeError(ctx, ws, "invalid frame")
			continue
		}
		if turn.Message == "" {
			h.writeError(ctx, ws, "message is required")
			continue
		}
		if !h.rateLimiter.Allow(ownerToken) {
			h.writeError(ctx, ws, "rate limit exceeded")
			continue
		}
		turn.OwnerToken = ownerToken

		if !h.runTurn(ctx, ws, turn.TurnRequest) {
			return
		}
	}
}

// runTurn streams one turn over the socket. Returns false when the
// connection is no longer writable.
func (h *WebSocketHandler) runTurn(ctx context.Context, ws *websocket.Conn, req chat.TurnRequest) bool {
	for ev, err := range h.chat.Turn(ctx, req) {
		if err != nil {
			slog.Error("websocket turn failed", "session_id", req.SessionID, "error", err)
			h.writeError(ctx, ws, "turn failed")
			return true
		}
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("failed to marshal turn event", "error", err)
			continue
		}
		if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			return false
		}
	}
	return true
}

func (h *WebSocketHandler) writeError(ctx context.Context, ws *websocket.Conn, msg string) {
	data, err := json.Marshal(wsError{Type: "error", Error: msg})
	if err != nil {
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("websocket error write failed", "error", err)
	}
}
