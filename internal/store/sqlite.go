package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/domain"
	_ "modernc.org/sqlite"
)

// isBusyError reports whether err is a SQLite concurrency error
// (SQLITE_BUSY or "database is locked") that warrants a retry.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes multi-statement writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		anonymous_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		canvas_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(anonymous_id, updated_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		canvas_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_session ON reports(session_id, created_at DESC);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves one session with its current canvas.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID, ownerToken string) (*domain.Session, error) {
	query := `
		SELECT id, anonymous_id, agent_id, title, canvas_json, created_at, updated_at
		FROM sessions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var sess domain.Session
	var canvasJSON string
	var createdAt, updatedAt int64

	err := row.Scan(&sess.ID, &sess.AnonymousID, &sess.AgentID, &sess.Title,
		&canvasJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	if sess.AnonymousID != ownerToken {
		return nil, domain.ErrForbidden
	}

	if err := json.Unmarshal([]byte(canvasJSON), &sess.Canvas); err != nil {
		return nil, fmt.Errorf("decode canvas for session %s: %w", sessionID, err)
	}
	sess.Canvas = sess.Canvas.Clone()
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)

	return &sess, nil
}

// UpsertSession creates or updates a session record.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert session: %w", err)
	}
	defer rollback(tx)

	var existingOwner string
	err = tx.QueryRowContext(ctx, `SELECT anonymous_id FROM sessions WHERE id = ?`, session.ID).
		Scan(&existingOwner)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check session owner: %w", err)
	}
	if err == nil && existingOwner != session.AnonymousID {
		return domain.ErrForbidden
	}

	canvasJSON, err := json.Marshal(session.Canvas.Clone())
	if err != nil {
		return fmt.Errorf("encode canvas: %w", err)
	}

	query := `
	INSERT INTO sessions (id, anonymous_id, agent_id, title, canvas_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = CASE WHEN excluded.title != '' THEN excluded.title ELSE sessions.title END,
		canvas_json = excluded.canvas_json,
		updated_at = excluded.updated_at`

	_, err = tx.ExecContext(ctx, query,
		session.ID, session.AnonymousID, session.AgentID, session.Title,
		string(canvasJSON), session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert session: %w", err)
	}
	return nil
}

// PatchCanvas merges a partial canvas update into the stored canvas inside
// one transaction and returns the merged result.
func (s *SQLiteStore) PatchCanvas(ctx context.Context, sessionID, ownerToken string, patch canvas.Record) (canvas.Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin canvas patch: %w", err)
	}
	defer rollback(tx)

	var owner, canvasJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT anonymous_id, canvas_json FROM sessions WHERE id = ?`, sessionID).
		Scan(&owner, &canvasJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read canvas: %w", err)
	}
	if owner != ownerToken {
		return nil, domain.ErrForbidden
	}

	var current canvas.Record
	if err := json.Unmarshal([]byte(canvasJSON), &current); err != nil {
		return nil, fmt.Errorf("decode canvas for session %s: %w", sessionID, err)
	}

	merged := canvas.Reduce(current, patch)
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged canvas: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET canvas_json = ?, updated_at = ? WHERE id = ?`,
		string(mergedJSON), time.Now().Unix(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("write merged canvas: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit canvas patch: %w", err)
	}
	return merged, nil
}

// DeleteSession removes a session and its messages and reports.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID, ownerToken string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.deleteSessionOnce(ctx, sessionID, ownerToken)
		if err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrForbidden) {
			return err
		}

		if isBusyError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("DeleteSession failed with SQLITE_BUSY, retrying",
				"session_id", sessionID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("delete session %s after %d attempts: %w", sessionID, i+1, err)
	}
	return nil
}

func (s *SQLiteStore) deleteSessionOnce(ctx context.Context, sessionID, ownerToken string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session delete: %w", err)
	}
	defer rollback(tx)

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT anonymous_id FROM sessions WHERE id = ?`, sessionID).
		Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check session owner: %w", err)
	}
	if owner != ownerToken {
		return domain.ErrForbidden
	}

	// Children first, then the session row.
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session reports: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session delete: %w", err)
	}
	return nil
}

// ListSessions returns one page of the caller's sessions, newest first,
// optionally restricted to one agent preset.
func (s *SQLiteStore) ListSessions(ctx context.Context, ownerToken, agentID, cursor string, limit int) (*domain.SessionPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT id, agent_id, title, created_at, updated_at
		FROM sessions WHERE anonymous_id = ?`
	args := []any{ownerToken}

	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	if cursor != "" {
		cursorAt, cursorID, err := parseCursor(cursor)
		if err != nil {
			return nil, err
		}
		query += ` AND (updated_at < ? OR (updated_at = ? AND id < ?))`
		args = append(args, cursorAt, cursorAt, cursorID)
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	page := &domain.SessionPage{Sessions: []domain.SessionSummary{}}
	for rows.Next() {
		var sum domain.SessionSummary
		var createdAt, updatedAt int64
		if err := rows.Scan(&sum.ID, &sum.AgentID, &sum.Title, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.CreatedAt = time.Unix(createdAt, 0)
		sum.UpdatedAt = time.Unix(updatedAt, 0)
		page.Sessions = append(page.Sessions, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	if len(page.Sessions) > limit {
		page.Sessions = page.Sessions[:limit]
		last := page.Sessions[limit-1]
		page.NextCursor = fmt.Sprintf("%d:%s", last.UpdatedAt.Unix(), last.ID)
	}

	return page, nil
}

func parseCursor(cursor string) (int64, string, error) {
	at, id, ok := strings.Cut(cursor, ":")
	if !ok {
		return 0, "", fmt.Errorf("malformed cursor %q", cursor)
	}
	unix, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed cursor %q: %w", cursor, err)
	}
	return unix, id, nil
}

// AppendMessage stores one chat message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	var toolCallsJSON any
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCallsJSON = string(raw)
	}

	query := `
	INSERT INTO messages (id, session_id, role, content, tool_calls_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.SessionID, msg.Role, msg.Content, toolCallsJSON, msg.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns all messages of a session in insertion order. The
// ULID message IDs sort lexicographically in creation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID, ownerToken string) ([]domain.Message, error) {
	if err := s.checkOwner(ctx, sessionID, ownerToken); err != nil {
		return nil, err
	}

	query := `
		SELECT id, role, content, tool_calls_json, created_at
		FROM messages WHERE session_id = ? ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	msgs := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var toolCallsJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &toolCallsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.SessionID = sessionID
		msg.CreatedAt = time.Unix(createdAt, 0)
		if toolCallsJSON.Valid {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls for message %s: %w", msg.ID, err)
			}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// AppendReport stores one immutable canvas snapshot.
func (s *SQLiteStore) AppendReport(ctx context.Context, report *domain.Report) error {
	canvasJSON, err := json.Marshal(report.Canvas)
	if err != nil {
		return fmt.Errorf("encode report canvas: %w", err)
	}

	query := `
	INSERT INTO reports (id, session_id, canvas_json, created_at)
	VALUES (?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		report.ID, report.SessionID, string(canvasJSON), report.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("append report: %w", err)
	}
	return nil
}

// ListReports returns the newest canvas snapshots of a session.
func (s *SQLiteStore) ListReports(ctx context.Context, sessionID, ownerToken string, limit int) ([]domain.Report, error) {
	if err := s.checkOwner(ctx, sessionID, ownerToken); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT id, canvas_json, created_at
		FROM reports WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close report rows", "error", closeErr)
		}
	}()

	reports := []domain.Report{}
	for rows.Next() {
		var rep domain.Report
		var canvasJSON string
		var createdAt int64
		if err := rows.Scan(&rep.ID, &canvasJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		rep.SessionID = sessionID
		rep.CreatedAt = time.Unix(createdAt, 0)
		if err := json.Unmarshal([]byte(canvasJSON), &rep.Canvas); err != nil {
			return nil, fmt.Errorf("decode canvas for report %s: %w", rep.ID, err)
		}
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, nil
}

func (s *SQLiteStore) checkOwner(ctx context.Context, sessionID, ownerToken string) error {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT anonymous_id FROM sessions WHERE id = ?`, sessionID).
		Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check session owner: %w", err)
	}
	if owner != ownerToken {
		return domain.ErrForbidden
	}
	return nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("transaction rollback failed", "error", err)
	}
}
