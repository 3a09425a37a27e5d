package watcher

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	content []byte
	readErr error
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Read() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return nil, b.readErr
	}
	return bytes.Clone(b.content), nil
}

func (b *fakeBackend) Write(content []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.content = bytes.Clone(content)
	return nil
}

func (b *fakeBackend) Clear() error { return b.Write(nil) }
func (b *fakeBackend) Close()       {}

func (b *fakeBackend) set(content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.content = []byte(content)
}

func (b *fakeBackend) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readErr = err
}

// expectNoEvent asserts nothing is pending on the watcher's event channel.
func expectNoEvent(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event: %q", ev.Content)
	default:
	}
}

func expectEvent(t *testing.T, w *Watcher, want string) {
	t.Helper()
	select {
	case ev := <-w.Events():
		assert.Equal(t, []byte(want), ev.Content)
		assert.False(t, ev.DetectedAt.IsZero())
	default:
		t.Fatalf("expected event %q, got none", want)
	}
}

func TestFirstPollBaselinesWithoutEvent(t *testing.T) {
	backend := &fakeBackend{content: []byte("hello")}
	w := New(backend, time.Minute)
	ctx := context.Background()

	w.poll(ctx)
	expectNoEvent(t, w)

	// Same content again: still nothing.
	w.poll(ctx)
	expectNoEvent(t, w)

	backend.set("world")
	w.poll(ctx)
	expectEvent(t, w, "world")
}

func TestDuplicateSamplesEmitOneEvent(t *testing.T) {
	backend := &fakeBackend{}
	w := New(backend, time.Minute)
	ctx := context.Background()

	w.poll(ctx)
	backend.set("once")
	w.poll(ctx)
	w.poll(ctx)
	w.poll(ctx)

	expectEvent(t, w, "once")
	expectNoEvent(t, w)
}

func TestObserveSuppressesEcho(t *testing.T) {
	backend := &fakeBackend{}
	w := New(backend, time.Minute)
	ctx := context.Background()

	w.poll(ctx)

	// The engine wrote a remote update to the clipboard and told us.
	remote := []byte("from the peer")
	require.NoError(t, backend.Write(remote))
	w.Observe(remote)

	w.poll(ctx)
	expectNoEvent(t, w)

	// A genuinely new local change still comes through.
	backend.set("typed locally")
	w.poll(ctx)
	expectEvent(t, w, "typed locally")
}

func TestTransientReadErrorIsRetried(t *testing.T) {
	backend := &fakeBackend{content: []byte("preexisting")}
	backend.setErr(errors.New("display busy"))
	w := New(backend, time.Minute)
	ctx := context.Background()

	// Failed reads produce nothing and do not baseline.
	w.poll(ctx)
	w.poll(ctx)
	expectNoEvent(t, w)

	// First successful read is the baseline, still silent.
	backend.setErr(nil)
	w.poll(ctx)
	expectNoEvent(t, w)

	backend.set("changed")
	w.poll(ctx)
	expectEvent(t, w, "changed")
}

func TestRunEmitsOnInterval(t *testing.T) {
	backend := &fakeBackend{content: []byte("baseline")}
	w := New(backend, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give Run time to capture the baseline, then change the content.
	time.Sleep(20 * time.Millisecond)
	backend.set("fresh")

	select {
	case ev := <-w.Events():
		assert.Equal(t, []byte("fresh"), ev.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no event within deadline")
	}
}

func TestDefaultIntervalApplied(t *testing.T) {
	w := New(&fakeBackend{}, 0)
	assert.Equal(t, DefaultInterval, w.interval)
}
