// Package view holds the client-side session state: the local canvas, the
// transcript, restore reconciliation, and the persistence debouncer.
package view

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/preset"
)

// Auto-continue parameters. When the final assistant message carried only a
// canvas update and no prose, the client sends one flagged continuation
// turn after the delay so the consultation does not stall.
const (
	AutoContinueDelay  = 3 * time.Second
	AutoContinuePrompt = "请继续"
)

// Snapshot is the server-side state of a session as fetched on restore.
type Snapshot struct {
	SessionID string               `json:"sessionId"`
	AgentID   string               `json:"agentId"`
	Title     string               `json:"title,omitempty"`
	Canvas    canvas.Record        `json:"canvasData"`
	Messages  []canvas.ChatMessage `json:"messages"`
}

// Store is the remote side the view syncs against.
type Store interface {
	// FetchSession returns the persisted state of a session.
	FetchSession(ctx context.Context, sessionID string) (*Snapshot, error)

	// PatchCanvas merges a partial update into the persisted canvas.
	PatchCanvas(ctx context.Context, sessionID string, patch canvas.Record) (canvas.Record, error)
}

// View is the session state machine. All exported methods are safe for
// concurrent use.
type View struct {
	store     Store
	sessionID string
	preset    *preset.Preset
	debouncer *canvas.Debouncer

	mu         sync.Mutex
	canvas     canvas.Record
	messages   []canvas.ChatMessage
	restoring  bool
	generation uint64
	queued     []canvas.Record
	continued  map[string]bool
}

// New creates a view for one session. flushWindow is the debounce window
// for canvas persistence; updates within the window coalesce into one
// remote patch.
func New(store Store, sessionID string, p *preset.Preset, flushWindow time.Duration) *View {
	v := &View{
		store:     store,
		sessionID: sessionID,
		preset:    p,
		canvas:    p.DefaultCanvas.Clone(),
		continued: make(map[string]bool),
	}
	v.debouncer = canvas.NewDebouncer(flushWindow, func(patch canvas.Record) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := store.PatchCanvas(ctx, sessionID, patch)
		return err
	})
	return v
}

// Restore fetches the persisted session and rebuilds the local state:
// the stored canvas is the base, and tool calls recorded in the transcript
// are replayed on top. A missing session seeds the preset defaults. A
// restore that was superseded by a newer one is discarded wholesale.
func (v *View) Restore(ctx context.Context) error {
	v.mu.Lock()
	v.generation++
	gen := v.generation
	v.restoring = true
	v.mu.Unlock()

	snap, err := v.store.FetchSession(ctx, v.sessionID)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.generation != gen {
		// A newer restore owns the state now.
		return nil
	}
	v.restoring = false

	if err != nil {
		// Local state stays untouched on any failure. The caller decides
		// whether a missing session is an error.
		v.queued = nil
		return fmt.Errorf("restore session %s: %w", v.sessionID, err)
	}

	rec := snap.Canvas.Clone()
	if len(rec) == 0 {
		rec = v.preset.DefaultCanvas.Clone()
	}
	for _, inv := range canvas.Extract(snap.Messages, canvas.CanvasToolName) {
		rec = canvas.Reduce(rec, inv.Payload)
	}
	for _, patch := range v.queued {
		rec = canvas.Reduce(rec, patch)
	}
	v.queued = nil
	v.canvas = rec
	v.messages = append([]canvas.ChatMessage(nil), snap.Messages...)
	return nil
}

// SeedDefaults resets the local state to the preset defaults. Used when the
// server has no session yet.
func (v *View) SeedDefaults() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.canvas = v.preset.DefaultCanvas.Clone()
	v.messages = nil
	v.queued = nil
	v.restoring = false
}

// ApplyPatch merges a canvas update into the local state and schedules it
// for persistence. Patches arriving while a restore is in flight are queued
// and replayed once the restore lands.
func (v *View) ApplyPatch(patch canvas.Record) canvas.Record {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.restoring {
		v.queued = append(v.queued, patch.Clone())
		v.debouncer.Add(patch)
		return v.canvas.Clone()
	}
	v.canvas = canvas.Reduce(v.canvas, patch)
	v.debouncer.Add(patch)
	return v.canvas.Clone()
}

// SetCanvas replaces the local canvas with a server-merged result, without
// scheduling persistence. Used when the server already stored the merge.
func (v *View) SetCanvas(rec canvas.Record) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.canvas = rec.Clone()
}

// AppendMessage adds one message to the local transcript.
func (v *View) AppendMessage(msg canvas.ChatMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, msg)
}

// Canvas returns a copy of the current local canvas.
func (v *View) Canvas() canvas.Record {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.canvas.Clone()
}

// Messages returns a copy of the local transcript.
func (v *View) Messages() []canvas.ChatMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]canvas.ChatMessage(nil), v.messages...)
}

// AutoContinueTarget reports whether the final assistant message warrants
// an automatic continuation: it carried a canvas update but no prose, it is
// not itself part of an automatic exchange, and it has not been continued
// before. The returned ID identifies the message for MarkAutoContinued.
func (v *View) AutoContinueTarget() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.messages) == 0 {
		return "", false
	}
	last := v.messages[len(v.messages)-1]
	if last.Role != "assistant" || last.Auto || v.continued[last.ID] {
		return "", false
	}
	invs, hasText := canvas.LastUpdate(v.messages, canvas.CanvasToolName)
	if hasText || len(invs) == 0 {
		return "", false
	}
	return last.ID, true
}

// MarkAutoContinued records that a continuation was sent for the given
// assistant message, so it never fires twice.
func (v *View) MarkAutoContinued(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.continued[id] = true
}

// Flush forces any pending canvas patch to persist immediately.
func (v *View) Flush() {
	v.debouncer.Flush()
}

// Close flushes pending state and stops the debouncer.
func (v *View) Close() {
	v.debouncer.Close()
}
