package chat

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/domain"
	"github.com/bizlens/bizlens/internal/model"
)

// fakeRepo is an in-memory store.Repository for orchestration tests.
type fakeRepo struct {
	sessions map[string]*domain.Session
	messages []domain.Message
	reports  []domain.Report
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: make(map[string]*domain.Session)}
}

func (f *fakeRepo) GetSession(_ context.Context, id, owner string) (*domain.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if sess.AnonymousID != owner {
		return nil, domain.ErrForbidden
	}
	cp := *sess
	cp.Canvas = sess.Canvas.Clone()
	return &cp, nil
}

func (f *fakeRepo) UpsertSession(_ context.Context, sess *domain.Session) error {
	if existing, ok := f.sessions[sess.ID]; ok && existing.AnonymousID != sess.AnonymousID {
		return domain.ErrForbidden
	}
	cp := *sess
	cp.Canvas = sess.Canvas.Clone()
	f.sessions[sess.ID] = &cp
	return nil
}

func (f *fakeRepo) PatchCanvas(_ context.Context, id, owner string, patch canvas.Record) (canvas.Record, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if sess.AnonymousID != owner {
		return nil, domain.ErrForbidden
	}
	sess.Canvas = canvas.Reduce(sess.Canvas, patch)
	return sess.Canvas.Clone(), nil
}

func (f *fakeRepo) DeleteSession(_ context.Context, id, owner string) error {
	if _, ok := f.sessions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeRepo) ListSessions(context.Context, string, string, string, int) (*domain.SessionPage, error) {
	return &domain.SessionPage{}, nil
}

func (f *fakeRepo) AppendMessage(_ context.Context, msg *domain.Message) error {
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeRepo) ListMessages(_ context.Context, id, owner string) ([]domain.Message, error) {
	if _, ok := f.sessions[id]; !ok {
		return nil, domain.ErrNotFound
	}
	var out []domain.Message
	for _, m := range f.messages {
		if m.SessionID == id {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) AppendReport(_ context.Context, rep *domain.Report) error {
	f.reports = append(f.reports, *rep)
	return nil
}

func (f *fakeRepo) ListReports(context.Context, string, string, int) ([]domain.Report, error) {
	return nil, nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

// fakeStreamer replays a scripted event sequence and records the request.
type fakeStreamer struct {
	events  []*model.Event
	err     error
	lastReq model.Request
}

func (f *fakeStreamer) Chat(_ context.Context, req model.Request) iter.Seq2[*model.Event, error] {
	f.lastReq = req
	return func(yield func(*model.Event, error) bool) {
		for _, ev := range f.events {
			if !yield(ev, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func (f *fakeStreamer) Close() {}

func runTurn(t *testing.T, svc *Service, req TurnRequest) []*TurnEvent {
	t.Helper()
	var events []*TurnEvent
	for ev, err := range svc.Turn(context.Background(), req) {
		if err != nil {
			t.Fatalf("turn error: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestTurnCreatesSessionWithPresetDefaults(t *testing.T) {
	repo := newFakeRepo()
	llm := &fakeStreamer{events: []*model.Event{
		{Type: model.EventText, Text: "好的，先说说产品。"},
		{Type: model.EventDone},
	}}
	svc := NewService(repo, llm, "missing.json", nil)

	events := runTurn(t, svc, TurnRequest{
		SessionID:  "s1",
		OwnerToken: "owner-a",
		Message:    "我想做智能手表",
	})

	sess := repo.sessions["s1"]
	if sess == nil {
		t.Fatal("session not created")
	}
	if sess.AgentID != "gxx" {
		t.Errorf("agent = %q, want default preset", sess.AgentID)
	}
	if sess.Title != "我想做智能手表" {
		t.Errorf("title = %q", sess.Title)
	}
	if _, ok := sess.Canvas["scores"]; !ok {
		t.Errorf("default canvas not seeded: %v", sess.Canvas)
	}

	if last := events[len(events)-1]; last.Type != EventDone {
		t.Errorf("last event = %s", last.Type)
	}
	// user + assistant
	if len(repo.messages) != 2 {
		t.Fatalf("messages = %d", len(repo.messages))
	}
	if repo.messages[1].Role != domain.RoleAssistant || repo.messages[1].Content != "好的，先说说产品。" {
		t.Errorf("assistant message = %+v", repo.messages[1])
	}
}

func TestTurnAppliesCanvasToolCall(t *testing.T) {
	repo := newFakeRepo()
	args, _ := json.Marshal(map[string]any{
		"target": "老年人",
		"scores": map[string]any{"High": 4.0},
	})
	llm := &fakeStreamer{events: []*model.Event{
		{Type: model.EventText, Text: "目标客户记下了。"},
		{Type: model.EventToolCall, ToolName: canvas.CanvasToolName, ToolArgs: args},
		{Type: model.EventDone},
	}}
	svc := NewService(repo, llm, "missing.json", nil)

	events := runTurn(t, svc, TurnRequest{
		SessionID:  "s1",
		OwnerToken: "owner-a",
		Message:    "目标客户是老年人",
	})

	var canvasEv *TurnEvent
	for _, ev := range events {
		if ev.Type == EventCanvas {
			canvasEv = ev
		}
	}
	if canvasEv == nil {
		t.Fatal("no canvas event")
	}
	if canvasEv.Canvas["target"] != "老年人" {
		t.Errorf("canvas = %v", canvasEv.Canvas)
	}
	scores := canvasEv.Canvas["scores"].(map[string]any)
	if scores["high"] != 4.0 {
		t.Errorf("scores not lowercased: %v", scores)
	}

	if len(repo.reports) != 1 {
		t.Fatalf("reports = %d", len(repo.reports))
	}
	assistant := repo.messages[len(repo.messages)-1]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Payload["target"] != "老年人" {
		t.Errorf("assistant tool calls = %+v", assistant.ToolCalls)
	}
}

func TestTurnIgnoresForeignTool(t *testing.T) {
	repo := newFakeRepo()
	llm := &fakeStreamer{events: []*model.Event{
		{Type: model.EventToolCall, ToolName: "searchWeb", ToolArgs: json.RawMessage(`{}`)},
		{Type: model.EventText, Text: "查询完成。"},
		{Type: model.EventDone},
	}}
	svc := NewService(repo, llm, "missing.json", nil)

	events := runTurn(t, svc, TurnRequest{SessionID: "s1", OwnerToken: "owner-a", Message: "hi"})

	for _, ev := range events {
		if ev.Type == EventCanvas {
			t.Fatal("foreign tool produced a canvas event")
		}
	}
	if len(repo.reports) != 0 {
		t.Errorf("reports = %d", len(repo.reports))
	}
}

func TestTurnSendsHistoryAndToolSchema(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()
	repo.sessions["s1"] = &domain.Session{
		ID: "s1", AnonymousID: "owner-a", AgentID: "gxx", Title: "t",
		Canvas: canvas.Record{}, CreatedAt: now, UpdatedAt: now,
	}
	repo.messages = []domain.Message{
		{ID: "m1", SessionID: "s1", Role: domain.RoleUser, Content: "第一句", CreatedAt: now},
		{ID: "m2", SessionID: "s1", Role: domain.RoleAssistant, Content: "收到", CreatedAt: now},
	}
	llm := &fakeStreamer{events: []*model.Event{{Type: model.EventDone}}}
	svc := NewService(repo, llm, "missing.json", nil)

	runTurn(t, svc, TurnRequest{SessionID: "s1", OwnerToken: "owner-a", Message: "第二句"})

	req := llm.lastReq
	if req.System == "" {
		t.Error("system prompt missing")
	}
	if len(req.Messages) != 3 || req.Messages[2].Content != "第二句" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != canvas.CanvasToolName {
		t.Errorf("tools = %+v", req.Tools)
	}
}

func TestTurnStreamErrorKeepsPartialTranscript(t *testing.T) {
	repo := newFakeRepo()
	llm := &fakeStreamer{
		events: []*model.Event{{Type: model.EventText, Text: "部分回复"}},
		err:    errors.New("upstream closed"),
	}
	svc := NewService(repo, llm, "missing.json", nil)

	var gotErr error
	for _, err := range svc.Turn(context.Background(), TurnRequest{
		SessionID: "s1", OwnerToken: "owner-a", Message: "hi",
	}) {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr == nil {
		t.Fatal("expected stream error")
	}

	assistant := repo.messages[len(repo.messages)-1]
	if assistant.Role != domain.RoleAssistant || assistant.Content != "部分回复" {
		t.Errorf("partial assistant message = %+v", assistant)
	}
}

func TestTurnConsumerDisconnectKeepsPartialTranscript(t *testing.T) {
	repo := newFakeRepo()
	llm := &fakeStreamer{events: []*model.Event{
		{Type: model.EventText, Text: "第一段"},
		{Type: model.EventText, Text: "第二段"},
		{Type: model.EventDone},
	}}
	svc := NewService(repo, llm, "missing.json", nil)

	// Stop consuming after the first text event, like a dropped SSE client.
	for ev, err := range svc.Turn(context.Background(), TurnRequest{
		SessionID: "s1", OwnerToken: "owner-a", Message: "hi",
	}) {
		if err != nil {
			t.Fatalf("turn error: %v", err)
		}
		if ev.Type == EventText {
			break
		}
	}

	assistant := repo.messages[len(repo.messages)-1]
	if assistant.Role != domain.RoleAssistant || assistant.Content != "第一段" {
		t.Errorf("partial assistant message = %+v", assistant)
	}
}

func TestTurnRejectsUnknownPreset(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeStreamer{}, "missing.json", nil)

	var gotErr error
	for _, err := range svc.Turn(context.Background(), TurnRequest{
		SessionID: "s1", OwnerToken: "owner-a", PresetID: "nope", Message: "hi",
	}) {
		if err != nil {
			gotErr = err
		}
	}
	if !errors.Is(gotErr, errUnknownPreset) {
		t.Errorf("err = %v", gotErr)
	}
}
