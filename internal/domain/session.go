// Package domain contains core domain types for the consulting-canvas
// application.
package domain

import (
	"errors"
	"time"

	"github.com/bizlens/bizlens/internal/canvas"
)

// Sentinel errors shared by the store and the HTTP layer.
var (
	// ErrNotFound means the requested session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrForbidden means the caller's owner token does not match the
	// session's stored token. The token is a weak ownership check, not an
	// authentication credential.
	ErrForbidden = errors.New("owner token mismatch")
)

// Session is one consulting conversation. IDs and owner tokens are
// client-generated opaque strings. The canvas snapshot embedded here is the
// single "current" canvas for the session; Reports hold its history.
type Session struct {
	ID          string        `json:"id"`
	AnonymousID string        `json:"-"`
	AgentID     string        `json:"agentId"`
	Title       string        `json:"title,omitempty"`
	Canvas      canvas.Record `json:"canvasData,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Message belongs to exactly one session. CreatedAt together with the
// ULID-based ID establishes strict ordering within the session.
type Message struct {
	ID        string                  `json:"id"`
	SessionID string                  `json:"-"`
	Role      string                  `json:"role"`
	Content   string                  `json:"content"`
	ToolCalls []canvas.ToolInvocation `json:"toolInvocations,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Report is an immutable point-in-time copy of the session canvas, appended
// whenever the model issues a canvas update. Audit trail, never mutated.
type Report struct {
	ID        string        `json:"id"`
	SessionID string        `json:"-"`
	Canvas    canvas.Record `json:"canvasData"`
	CreatedAt time.Time     `json:"createdAt"`
}

// SessionSummary is the list-view projection of a session.
type SessionSummary struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionPage is one page of a cursor-paginated session listing.
type SessionPage struct {
	Sessions   []SessionSummary `json:"sessions"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// TitleFromMessage derives a session title from the first user message.
func TitleFromMessage(text string) string {
	const maxTitleRunes = 60
	runes := []rune(text)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes])
	}
	return text
}
