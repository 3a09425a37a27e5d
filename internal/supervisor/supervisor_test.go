package supervisor

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipmirror/internal/engine"
	"go.klb.dev/clipmirror/internal/watcher"
	"go.klb.dev/clipmirror/internal/wire"
)

type memClipboard struct {
	mu      sync.Mutex
	content []byte
}

func (c *memClipboard) Write(content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = bytes.Clone(content)
	return nil
}

func (c *memClipboard) get() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.content)
}

type nopObserver struct{}

func (nopObserver) Observe([]byte) {}

type testEngine struct {
	eng    *engine.Engine
	events chan watcher.Event
	cb     *memClipboard
}

func startEngine(t *testing.T) *testEngine {
	t.Helper()
	te := &testEngine{
		events: make(chan watcher.Event, 16),
		cb:     &memClipboard{},
	}
	te.eng = engine.New(te.cb, nopObserver{}, te.events)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go te.eng.Run(ctx)
	return te
}

func (te *testEngine) localChange(content string) {
	te.events <- watcher.Event{Content: []byte(content), DetectedAt: time.Now()}
}

func waitClipboard(t *testing.T, cb *memClipboard, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return bytes.Equal(cb.get(), []byte(want))
	}, 5*time.Second, 5*time.Millisecond, "clipboard never became %q", want)
}

func waitState(t *testing.T, sup *Supervisor, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sup.State() == want
	}, 5*time.Second, 5*time.Millisecond, "supervisor never reached state %s", want)
}

func TestDialerConnectsAndSyncsBothWays(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	te := startEngine(t)
	sup := NewDialer(ln.Addr().String(), te.eng)
	assert.Equal(t, "dialer", sup.Role())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	conn, err := ln.Accept()
	require.NoError(t, err)
	peer := wire.New(conn)
	defer peer.Close()

	// Inbound: peer frame lands on the local clipboard.
	require.NoError(t, peer.Send([]byte("copied on the other machine")))
	waitClipboard(t, te.cb, "copied on the other machine")

	waitState(t, sup, Connected)
	assert.NotEmpty(t, sup.PeerAddr())

	// Outbound: a local change reaches the peer.
	te.localChange("copied here")
	payload, err := peer.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("copied here"), payload)
}

func TestDialerReconnectsWithoutReplay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	te := startEngine(t)
	sup := NewDialer(ln.Addr().String(), te.eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	conn1, err := ln.Accept()
	require.NoError(t, err)
	waitState(t, sup, Connected)

	// Sever the link.
	require.NoError(t, conn1.Close())
	require.Eventually(t, func() bool {
		return sup.State() != Connected
	}, 5*time.Second, 5*time.Millisecond)

	// A change made during the outage is not queued.
	te.localChange("made during outage")

	// The dialer comes back within its backoff window.
	conn2, err := ln.Accept()
	require.NoError(t, err)
	peer2 := wire.New(conn2)
	defer peer2.Close()
	waitState(t, sup, Connected)

	// Only the post-reconnect change is delivered, exactly once.
	te.localChange("made after reconnect")
	payload, err := peer2.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("made after reconnect"), payload)
}

func TestListenerReplacesExistingConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	te := startEngine(t)
	sup := NewListener(ln, te.eng)
	assert.Equal(t, "listener", sup.Role())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	conn1, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	peer1 := wire.New(conn1)
	waitState(t, sup, Connected)

	conn2, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	peer2 := wire.New(conn2)
	defer peer2.Close()

	// The first link is dropped in favour of the newcomer.
	_, err = peer1.Recv()
	require.ErrorIs(t, err, wire.ErrClosed)

	// Prove the replacement link is live both ways.
	require.NoError(t, peer2.Send([]byte("hello from the new peer")))
	waitClipboard(t, te.cb, "hello from the new peer")

	te.localChange("answer to the new peer")
	payload, err := peer2.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("answer to the new peer"), payload)
}

func TestDialerRunReturnsOnCancelWhileConnected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	te := startEngine(t)
	sup := NewDialer(ln.Addr().String(), te.eng)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	conn, err := ln.Accept()
	require.NoError(t, err)
	peer := wire.New(conn)
	defer peer.Close()
	waitState(t, sup, Connected)

	// Shutdown with a healthy peer on the line: the supervisor must close
	// the link itself rather than wait for the peer to hang up.
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// The peer observes an actual close, not an abandoned socket.
	_, err = peer.Recv()
	require.ErrorIs(t, err, wire.ErrClosed)
	assert.Equal(t, Disconnected, sup.State())
}

func TestListenerBackToBackConnectionsKeepEngineAttached(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	te := startEngine(t)
	sup := NewListener(ln, te.eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	// Two connections in quick succession, no settling in between. Attach
	// order must follow accept order, or the engine could end up holding
	// the closed first link.
	conn1, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	peer1 := wire.New(conn1)
	conn2, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	peer2 := wire.New(conn2)
	defer peer2.Close()

	_, err = peer1.Recv()
	require.ErrorIs(t, err, wire.ErrClosed)

	// The surviving link carries traffic both ways.
	require.NoError(t, peer2.Send([]byte("second connection")))
	waitClipboard(t, te.cb, "second connection")

	te.localChange("still attached")
	payload, err := peer2.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("still attached"), payload)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
}
