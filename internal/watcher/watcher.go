// Package watcher turns the polled system clipboard into a stream of change
// events.
package watcher

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"go.klb.dev/clipmirror/internal/clip"
)

// DefaultInterval is the default polling interval. Short enough that a sync
// feels immediate, long enough to keep OS clipboard API pressure low.
const DefaultInterval = 300 * time.Millisecond

// Event is one observed clipboard transition.
type Event struct {
	Content    []byte
	DetectedAt time.Time
}

// Watcher samples the clipboard on a fixed interval and emits an Event
// whenever the content differs from the previous sample. The first
// successful read only captures a baseline — pre-existing clipboard state is
// never reported as a change.
type Watcher struct {
	backend  clip.Backend
	interval time.Duration
	events   chan Event

	mu        sync.Mutex
	last      []byte
	baselined bool
}

// New creates a Watcher polling backend every interval. If interval is zero
// DefaultInterval is used.
func New(backend clip.Backend, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		backend:  backend,
		interval: interval,
		events:   make(chan Event, 16),
	}
}

// Events returns the channel change events are delivered on.
func (w *Watcher) Events() <-chan Event { return w.events }

// Observe advances the watcher's last-observed content without emitting an
// event. The sync engine calls it after writing a remote update to the
// clipboard, so the next poll sees nothing new and the update is not bounced
// back to the peer it came from.
func (w *Watcher) Observe(content []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = bytes.Clone(content)
	w.baselined = true
}

// Run polls until ctx is cancelled. Blocks; call in a goroutine.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	// Capture the baseline right away rather than one tick late.
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	content, err := w.backend.Read()
	if err != nil {
		// Transient by definition; the next tick retries.
		slog.Debug("clipboard read failed, will retry", "err", err)
		return
	}

	w.mu.Lock()
	if !w.baselined {
		w.baselined = true
		w.last = bytes.Clone(content)
		w.mu.Unlock()
		return
	}
	if bytes.Equal(content, w.last) {
		w.mu.Unlock()
		return
	}
	w.last = bytes.Clone(content)
	w.mu.Unlock()

	select {
	case w.events <- Event{Content: content, DetectedAt: time.Now()}:
	case <-ctx.Done():
	}
}
