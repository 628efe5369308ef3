// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/domain"
)

// Repository defines the interface for persisting sessions, messages, and
// canvas reports. Every session-scoped method takes the caller's owner
// token; a mismatch returns domain.ErrForbidden and a missing session
// returns domain.ErrNotFound.
type Repository interface {
	// GetSession retrieves one session with its current canvas.
	GetSession(ctx context.Context, sessionID, ownerToken string) (*domain.Session, error)

	// UpsertSession creates or updates a session record. On conflict the
	// title is only overwritten when the new one is non-empty, and the
	// owner must match.
	UpsertSession(ctx context.Context, session *domain.Session) error

	// PatchCanvas merges a partial canvas update into the stored canvas
	// and returns the merged result. The read-merge-write runs in one
	// transaction.
	PatchCanvas(ctx context.Context, sessionID, ownerToken string, patch canvas.Record) (canvas.Record, error)

	// DeleteSession removes a session and all of its messages and reports.
	DeleteSession(ctx context.Context, sessionID, ownerToken string) error

	// ListSessions returns one page of the caller's sessions, newest
	// first. A non-empty agentID restricts the page to that preset.
	// cursor is the opaque NextCursor of a previous page, or empty.
	ListSessions(ctx context.Context, ownerToken, agentID, cursor string, limit int) (*domain.SessionPage, error)

	// AppendMessage stores one chat message.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns all messages of a session in insertion order.
	ListMessages(ctx context.Context, sessionID, ownerToken string) ([]domain.Message, error)

	// AppendReport stores one immutable canvas snapshot.
	AppendReport(ctx context.Context, report *domain.Report) error

	// ListReports returns the newest canvas snapshots of a session, up to
	// limit, newest first.
	ListReports(ctx context.Context, sessionID, ownerToken string, limit int) ([]domain.Report, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
