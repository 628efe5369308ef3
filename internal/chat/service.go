// Package chat orchestrates one consulting turn: persist the user message,
// stream the model reply, and fold canvas tool calls into the stored canvas.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/domain"
	"github.com/bizlens/bizlens/internal/model"
	"github.com/bizlens/bizlens/internal/preset"
	"github.com/bizlens/bizlens/internal/store"
)

var errUnknownPreset = errors.New("unknown preset")

// Service runs consulting turns against the model and the repository.
type Service struct {
	repo          store.Repository
	llm           model.Streamer
	knowledgePath string
	logger        *slog.Logger
}

// NewService creates a chat service.
func NewService(repo store.Repository, llm model.Streamer, knowledgePath string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:          repo,
		llm:           llm,
		knowledgePath: knowledgePath,
		logger:        logger,
	}
}

// TurnRequest describes one user turn. SessionID may name a session that
// does not exist yet; it is created with the preset's default canvas. Auto
// marks client-generated continuation turns.
type TurnRequest struct {
	SessionID  string `json:"sessionId"`
	OwnerToken string `json:"-"`
	PresetID   string `json:"agentId"`
	Message    string `json:"message"`
	Auto       bool   `json:"auto,omitempty"`
}

// TurnEvent kinds.
const (
	EventText   = "text"
	EventCanvas = "canvas"
	EventDone   = "done"
)

// TurnEvent is one streamed chunk of a turn. Canvas events carry the full
// merged canvas after a tool call, not the raw patch.
type TurnEvent struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId,omitempty"`
	Text      string        `json:"text,omitempty"`
	Canvas    canvas.Record `json:"canvasData,omitempty"`
}

// Turn executes one consulting turn. Text deltas stream through as they
// arrive; each canvas tool call is merged and persisted before its canvas
// event is yielded. The final done event follows the assistant message
// being stored.
func (s *Service) Turn(ctx context.Context, req TurnRequest) iter.Seq2[*TurnEvent, error] {
	return func(yield func(*TurnEvent, error) bool) {
		p, ok := preset.Get(req.PresetID)
		if req.PresetID == "" {
			p, ok = preset.Default(), true
		}
		if !ok {
			yield(nil, fmt.Errorf("%w: %s", errUnknownPreset, req.PresetID))
			return
		}

		sess, err := s.ensureSession(ctx, req, p)
		if err != nil {
			yield(nil, err)
			return
		}

		history, err := s.repo.ListMessages(ctx, sess.ID, req.OwnerToken)
		if err != nil {
			yield(nil, fmt.Errorf("load history: %w", err))
			return
		}

		userMsg := &domain.Message{
			ID:        ulid.Make().String(),
			SessionID: sess.ID,
			Role:      domain.RoleUser,
			Content:   req.Message,
			CreatedAt: time.Now(),
		}
		if err := s.repo.AppendMessage(ctx, userMsg); err != nil {
			yield(nil, fmt.Errorf("store user message: %w", err))
			return
		}

		modelReq := s.buildModelRequest(p, history, req.Message)

		var (
			assistant strings.Builder
			toolCalls []canvas.ToolInvocation
		)
		for ev, err := range s.llm.Chat(ctx, modelReq) {
			if err != nil {
				// Persist whatever arrived so the transcript stays coherent.
				s.storeAssistantMessage(ctx, sess.ID, assistant.String(), toolCalls)
				yield(nil, fmt.Errorf("model stream: %w", err))
				return
			}
			switch ev.Type {
			case model.EventText:
				assistant.WriteString(ev.Text)
				if !yield(&TurnEvent{Type: EventText, SessionID: sess.ID, Text: ev.Text}, nil) {
					// Consumer went away; keep what it already saw.
					s.storeAssistantMessage(ctx, sess.ID, assistant.String(), toolCalls)
					return
				}
			case model.EventToolCall:
				merged, call, err := s.applyToolCall(ctx, sess.ID, req.OwnerToken, ev)
				if err != nil {
					s.logger.Warn("canvas tool call rejected",
						"session_id", sess.ID, "tool", ev.ToolName, "error", err)
					continue
				}
				toolCalls = append(toolCalls, *call)
				if !yield(&TurnEvent{Type: EventCanvas, SessionID: sess.ID, Canvas: merged}, nil) {
					s.storeAssistantMessage(ctx, sess.ID, assistant.String(), toolCalls)
					return
				}
			case model.EventDone:
				// Fall through to the final persist below.
			}
		}

		s.storeAssistantMessage(ctx, sess.ID, assistant.String(), toolCalls)
		yield(&TurnEvent{Type: EventDone, SessionID: sess.ID}, nil)
	}
}

// ensureSession loads the session or creates it with the preset defaults.
// The first user turn also titles the session.
func (s *Service) ensureSession(ctx context.Context, req TurnRequest, p *preset.Preset) (*domain.Session, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sess, err := s.repo.GetSession(ctx, sessionID, req.OwnerToken)
	if errors.Is(err, domain.ErrNotFound) {
		now := time.Now()
		sess = &domain.Session{
			ID:          sessionID,
			AnonymousID: req.OwnerToken,
			AgentID:     p.ID,
			Title:       domain.TitleFromMessage(req.Message),
			Canvas:      p.DefaultCanvas.Clone(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.UpsertSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return sess, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if sess.Title == "" && !req.Auto {
		sess.Title = domain.TitleFromMessage(req.Message)
		sess.UpdatedAt = time.Now()
		if err := s.repo.UpsertSession(ctx, sess); err != nil {
			s.logger.Warn("session title update failed", "session_id", sess.ID, "error", err)
		}
	}
	return sess, nil
}

func (s *Service) buildModelRequest(p *preset.Preset, history []domain.Message, userText string) model.Request {
	msgs := make([]model.Message, 0, len(history)+1)
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		msgs = append(msgs, model.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, model.Message{Role: domain.RoleUser, Content: userText})

	return model.Request{
		System:   preset.BuildSystemPrompt(p, s.knowledgePath),
		Messages: msgs,
		Tools: []model.Tool{{
			Name:        canvas.CanvasToolName,
			Description: "更新商业画布。只发送已知或刚确认的字段，未知字段省略。",
			Parameters:  p.ToolSchema,
		}},
	}
}

// applyToolCall merges one canvas update into the stored canvas and appends
// an immutable report of the result.
func (s *Service) applyToolCall(ctx context.Context, sessionID, ownerToken string, ev *model.Event) (canvas.Record, *canvas.ToolInvocation, error) {
	if ev.ToolName != canvas.CanvasToolName {
		return nil, nil, fmt.Errorf("unsupported tool %q", ev.ToolName)
	}
	var patch canvas.Record
	if err := json.Unmarshal(ev.ToolArgs, &patch); err != nil {
		return nil, nil, fmt.Errorf("decode tool arguments: %w", err)
	}

	merged, err := s.repo.PatchCanvas(ctx, sessionID, ownerToken, patch)
	if err != nil {
		return nil, nil, fmt.Errorf("apply canvas patch: %w", err)
	}

	report := &domain.Report{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Canvas:    merged,
		CreatedAt: time.Now(),
	}
	if err := s.repo.AppendReport(ctx, report); err != nil {
		s.logger.Warn("report append failed", "session_id", sessionID, "error", err)
	}

	return merged, &canvas.ToolInvocation{Name: ev.ToolName, Payload: patch.Clone()}, nil
}

// storeAssistantMessage persists the assistant turn. Text is sanitized so
// leaked canvas JSON never reaches the transcript; a turn that produced
// neither text nor tool calls is not stored.
func (s *Service) storeAssistantMessage(ctx context.Context, sessionID, text string, toolCalls []canvas.ToolInvocation) {
	clean := canvas.SanitizeText(text)
	if clean == "" && len(toolCalls) == 0 {
		return
	}
	// A disconnected client cancels the request context; the transcript
	// write must still land.
	ctx = context.WithoutCancel(ctx)
	msg := &domain.Message{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Content:   clean,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		s.logger.Warn("assistant message append failed", "session_id", sessionID, "error", err)
	}
}
