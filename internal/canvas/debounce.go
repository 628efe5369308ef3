package canvas

import (
	"log/slog"
	"sync"
	"time"
)

// FlushFunc delivers a coalesced patch to the backing store. A returned
// error is logged and the patch is dropped: local state is already updated
// optimistically and is never rolled back. A failed write can therefore
// leave a later restore missing the edit.
type FlushFunc func(patch Record) error

// Debouncer coalesces a stream of human-originated canvas patches. All
// patches submitted within the quiet window after the most recent patch are
// shallow-merged into one accumulator and flushed as a single write. Close
// flushes synchronously so an edit made just before teardown still reaches
// the store.
//
// Safe for concurrent use; the event-loop serialization of the original
// design is replaced by a mutex here.
type Debouncer struct {
	window time.Duration
	flush  FlushFunc

	mu      sync.Mutex
	pending Record
	timer   *time.Timer
	closed  bool
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration, flush FlushFunc) *Debouncer {
	return &Debouncer{window: window, flush: flush}
}

// Add buffers a patch and restarts the quiet window.
func (d *Debouncer) Add(patch Record) {
	if len(patch) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		slog.Warn("debouncer: patch after close dropped", "fields", len(patch))
		return
	}
	if d.pending == nil {
		d.pending = Record{}
	}
	for k, v := range patch {
		d.pending[k] = v
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	pending := d.take()
	d.mu.Unlock()
	d.deliver(pending)
}

// Flush synchronously delivers any pending accumulator right now.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	pending := d.take()
	d.mu.Unlock()
	d.deliver(pending)
}

// Close cancels the timer and synchronously flushes whatever is pending.
// Call on component teardown and on session or identity change.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	pending := d.take()
	d.mu.Unlock()
	d.deliver(pending)
}

// take detaches the accumulator and stops the timer. Caller holds d.mu.
func (d *Debouncer) take() Record {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	pending := d.pending
	d.pending = nil
	return pending
}

// deliver runs the flush outside the lock. Failures are logged, not retried.
func (d *Debouncer) deliver(pending Record) {
	if len(pending) == 0 {
		return
	}
	if err := d.flush(pending); err != nil {
		slog.Warn("debouncer: flush failed, edit not persisted", "error", err, "fields", len(pending))
	}
}
