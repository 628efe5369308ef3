package view

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/domain"
	"github.com/bizlens/bizlens/internal/preset"
)

// fakeStore serves canned snapshots and records canvas patches. Fetch can
// be gated on a channel to simulate a slow restore.
type fakeStore struct {
	mu      sync.Mutex
	snap    *Snapshot
	err     error
	gate    chan struct{}
	patches []canvas.Record
}

func (f *fakeStore) FetchSession(ctx context.Context, sessionID string) (*Snapshot, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func (f *fakeStore) PatchCanvas(_ context.Context, _ string, patch canvas.Record) (canvas.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch.Clone())
	return patch.Clone(), nil
}

func (f *fakeStore) patchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.patches)
}

func toolMessage(id string, payload string) canvas.ChatMessage {
	part, _ := json.Marshal(map[string]any{
		"type": "tool-invocation",
		"toolInvocation": map[string]any{
			"toolName": canvas.CanvasToolName,
			"state":    "result",
			"result":   json.RawMessage(payload),
		},
	})
	return canvas.ChatMessage{ID: id, Role: "assistant", Parts: []json.RawMessage{part}}
}

func textMessage(id, role, content string) canvas.ChatMessage {
	return canvas.ChatMessage{ID: id, Role: role, Content: content}
}

func TestRestoreReplaysTranscriptOverStoredCanvas(t *testing.T) {
	store := &fakeStore{snap: &Snapshot{
		SessionID: "s1",
		AgentID:   "gxx",
		Canvas:    canvas.Record{"product": "智能手表"},
		Messages: []canvas.ChatMessage{
			textMessage("m1", "user", "目标客户是老年人"),
			toolMessage("m2", `{"target":"老年人"}`),
		},
	}}
	v := New(store, "s1", preset.Default(), time.Hour)
	defer v.Close()

	if err := v.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	rec := v.Canvas()
	if rec["product"] != "智能手表" || rec["target"] != "老年人" {
		t.Errorf("canvas = %v", rec)
	}
	if len(v.Messages()) != 2 {
		t.Errorf("messages = %d", len(v.Messages()))
	}
}

func TestRestoreMissingSessionLeavesDefaults(t *testing.T) {
	store := &fakeStore{err: domain.ErrNotFound}
	v := New(store, "s1", preset.Default(), time.Hour)
	defer v.Close()

	err := v.Restore(context.Background())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}

	rec := v.Canvas()
	if rec["product"] != preset.EmptyPlaceholder {
		t.Errorf("defaults lost: %v", rec)
	}
}

func TestRestoreForbiddenDoesNotMutate(t *testing.T) {
	store := &fakeStore{err: domain.ErrForbidden}
	v := New(store, "s1", preset.Default(), time.Hour)
	defer v.Close()

	v.SetCanvas(canvas.Record{"product": "本地产品"})
	if err := v.Restore(context.Background()); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("err = %v", err)
	}
	if v.Canvas()["product"] != "本地产品" {
		t.Errorf("canvas mutated: %v", v.Canvas())
	}
}

func TestStaleRestoreDiscarded(t *testing.T) {
	gate := make(chan struct{})
	store := &fakeStore{
		gate: gate,
		snap: &Snapshot{SessionID: "s1", Canvas: canvas.Record{"product": "旧状态"}},
	}
	v := New(store, "s1", preset.Default(), time.Hour)
	defer v.Close()

	firstDone := make(chan error, 1)
	go func() { firstDone <- v.Restore(context.Background()) }()

	// Wait until the first restore is in flight, then supersede it.
	time.Sleep(20 * time.Millisecond)
	store.mu.Lock()
	store.gate = nil
	store.snap = &Snapshot{SessionID: "s1", Canvas: canvas.Record{"product": "新状态"}}
	store.mu.Unlock()

	if err := v.Restore(context.Background()); err != nil {
		t.Fatalf("second restore: %v", err)
	}

	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first restore: %v", err)
	}

	if got := v.Canvas()["product"]; got != "新状态" {
		t.Errorf("stale restore won: product = %v", got)
	}
}

func TestPatchesDuringRestoreQueuedAndReplayed(t *testing.T) {
	gate := make(chan struct{})
	store := &fakeStore{
		gate: gate,
		snap: &Snapshot{SessionID: "s1", Canvas: canvas.Record{"product": "服务器版"}},
	}
	v := New(store, "s1", preset.Default(), time.Hour)
	defer v.Close()

	done := make(chan error, 1)
	go func() { done <- v.Restore(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	v.ApplyPatch(canvas.Record{"target": "律师"})

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Restore: %v", err)
	}

	rec := v.Canvas()
	if rec["product"] != "服务器版" {
		t.Errorf("server canvas lost: %v", rec)
	}
	if rec["target"] != "律师" {
		t.Errorf("queued patch lost: %v", rec)
	}
}

func TestApplyPatchDebouncesToStore(t *testing.T) {
	store := &fakeStore{}
	v := New(store, "s1", preset.Default(), 30*time.Millisecond)
	defer v.Close()

	v.ApplyPatch(canvas.Record{"product": "A"})
	v.ApplyPatch(canvas.Record{"target": "B"})

	deadline := time.Now().Add(2 * time.Second)
	for store.patchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := store.patchCount(); n != 1 {
		t.Fatalf("patches = %d, want 1 coalesced flush", n)
	}
	store.mu.Lock()
	patch := store.patches[0]
	store.mu.Unlock()
	if patch["product"] != "A" || patch["target"] != "B" {
		t.Errorf("flushed patch = %v", patch)
	}
}

func TestAutoContinueTarget(t *testing.T) {
	v := New(&fakeStore{}, "s1", preset.Default(), time.Hour)
	defer v.Close()

	v.AppendMessage(textMessage("m1", "user", "目标客户是律师"))
	v.AppendMessage(toolMessage("m2", `{"target":"律师"}`))

	id, ok := v.AutoContinueTarget()
	if !ok || id != "m2" {
		t.Fatalf("target = %q, %v", id, ok)
	}

	v.MarkAutoContinued(id)
	if _, ok := v.AutoContinueTarget(); ok {
		t.Error("continuation fired twice for the same message")
	}

	// An assistant reply with prose never triggers continuation.
	v.AppendMessage(textMessage("m3", "assistant", "已记录。"))
	if _, ok := v.AutoContinueTarget(); ok {
		t.Error("text reply triggered continuation")
	}

	// Flagged automatic replies never chain.
	auto := toolMessage("m4", `{"niche":"诉讼律师"}`)
	auto.Auto = true
	v.AppendMessage(auto)
	if _, ok := v.AutoContinueTarget(); ok {
		t.Error("auto reply chained a continuation")
	}
}
