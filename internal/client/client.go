// Package client is the Go client for the BizLens server: REST calls for
// session state and a websocket stream for consulting turns.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/chat"
	"github.com/bizlens/bizlens/internal/domain"
	"github.com/bizlens/bizlens/internal/identity"
	"github.com/bizlens/bizlens/internal/view"
)

var errServerStatus = errors.New("server returned error status")

// Client talks to one BizLens server on behalf of one anonymous identity.
type Client struct {
	httpClient *http.Client
	baseURL    string
	ownerToken string
	logger     *slog.Logger
}

// New creates a client. baseURL is the server root, e.g. http://localhost:8080.
func New(baseURL, ownerToken string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !identity.IsValidOwnerToken(ownerToken) {
		return nil, fmt.Errorf("malformed owner token %q", ownerToken)
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		ownerToken: ownerToken,
		logger:     logger,
	}, nil
}

var _ view.Store = (*Client)(nil)

func (c *Client) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set(identity.AnonQueryParam, c.ownerToken)
	return c.baseURL + path + "?" + query.Encode()
}

// do runs one JSON request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError maps HTTP status codes back onto the domain sentinels so the
// view layer can treat local and remote stores alike.
func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return domain.ErrForbidden
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d %s", errServerStatus, resp.StatusCode,
			strings.TrimSpace(string(snippet)))
	}
}

// FetchSession returns the persisted state of a session.
func (c *Client) FetchSession(ctx context.Context, sessionID string) (*view.Snapshot, error) {
	var snap view.Snapshot
	q := url.Values{"sessionId": {sessionID}}
	if err := c.do(ctx, http.MethodGet, c.endpoint("/api/chat", q), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// PatchCanvas merges a partial update into the persisted canvas.
func (c *Client) PatchCanvas(ctx context.Context, sessionID string, patch canvas.Record) (canvas.Record, error) {
	var body struct {
		Canvas canvas.Record `json:"canvasData"`
	}
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/canvas"
	if err := c.do(ctx, http.MethodPatch, c.endpoint(path, nil), patch, &body); err != nil {
		return nil, err
	}
	return body.Canvas, nil
}

// ListSessions returns one page of the caller's sessions. A non-empty
// agentID restricts the page to that preset.
func (c *Client) ListSessions(ctx context.Context, agentID, cursor string, limit int) (*domain.SessionPage, error) {
	q := url.Values{}
	if agentID != "" {
		q.Set("agentId", agentID)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page domain.SessionPage
	if err := c.do(ctx, http.MethodGet, c.endpoint("/api/sessions", q), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DeleteSession removes a session and its history.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	path := "/api/sessions/" + url.PathEscape(sessionID)
	return c.do(ctx, http.MethodDelete, c.endpoint(path, nil), nil, nil)
}

// Turn runs one consulting turn over the websocket endpoint and streams the
// events back. The sequence ends after the done event or a yielded error.
func (c *Client) Turn(ctx context.Context, req chat.TurnRequest) iter.Seq2[*chat.TurnEvent, error] {
	return func(yield func(*chat.TurnEvent, error) bool) {
		wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws/chat?" +
			url.Values{identity.AnonQueryParam: {c.ownerToken}}.Encode()

		ws, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			yield(nil, fmt.Errorf("dial %s: %w", wsURL, err))
			return
		}
		defer func() {
			if closeErr := ws.Close(websocket.StatusNormalClosure, "turn finished"); closeErr != nil {
				c.logger.Debug("websocket close failed", "error", closeErr)
			}
		}()

		frame := struct {
			Type string `json:"type"`
			chat.TurnRequest
		}{Type: "turn", TurnRequest: req}
		raw, err := json.Marshal(frame)
		if err != nil {
			yield(nil, fmt.Errorf("encode turn: %w", err))
			return
		}
		if err := ws.Write(ctx, websocket.MessageText, raw); err != nil {
			yield(nil, fmt.Errorf("send turn: %w", err))
			return
		}

		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				yield(nil, fmt.Errorf("turn stream: %w", err))
				return
			}

			var probe struct {
				Type  string `json:"type"`
				Error string `json:"error"`
			}
			if err := json.Unmarshal(data, &probe); err != nil {
				yield(nil, fmt.Errorf("malformed turn event: %w", err))
				return
			}
			if probe.Type == "error" {
				yield(nil, fmt.Errorf("turn failed: %s", probe.Error))
				return
			}

			var ev chat.TurnEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				yield(nil, fmt.Errorf("malformed turn event: %w", err))
				return
			}
			if !yield(&ev, nil) {
				return
			}
			if ev.Type == chat.EventDone {
				return
			}
		}
	}
}
