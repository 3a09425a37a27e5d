// Package supervisor owns the lifecycle of the single peer link. One process
// runs in exactly one of two roles: listener (accepts inbound connections; a
// new connection replaces the current one) or dialer (connects to a known
// address and redials with bounded exponential backoff after any loss).
// Established links are handed to the sync engine; link errors detach them
// again. No traffic is replayed across a reconnect.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/clipmirror/internal/engine"
	"go.klb.dev/clipmirror/internal/wire"
)

const (
	reconnectDelay = 500 * time.Millisecond
	maxReconnect   = 5 * time.Second
	dialTimeout    = 10 * time.Second
)

// State describes the supervisor's view of the peer link.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Supervisor establishes and replaces the peer link used by the engine.
type Supervisor struct {
	eng   *engine.Engine
	role  string
	addr  string       // dialer only
	ln    net.Listener // listener only
	state atomic.Int32

	mu      sync.Mutex
	current *wire.Conn
}

// NewListener returns a Supervisor accepting peers on ln. The caller binds
// the listener so that an unusable port is a startup error, not a retry loop.
func NewListener(ln net.Listener, eng *engine.Engine) *Supervisor {
	return &Supervisor{eng: eng, role: "listener", ln: ln}
}

// NewDialer returns a Supervisor that connects to the peer at addr.
func NewDialer(addr string, eng *engine.Engine) *Supervisor {
	return &Supervisor{eng: eng, role: "dialer", addr: addr}
}

// Role returns "listener" or "dialer".
func (s *Supervisor) Role() string { return s.role }

// State returns the current link state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// PeerAddr returns the remote address of the active link, or "".
func (s *Supervisor) PeerAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.RemoteAddr().String()
}

// Run establishes links until ctx is cancelled. Blocks; call in a goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	defer s.close()
	if s.ln != nil {
		s.runListener(ctx)
	} else {
		s.runDialer(ctx)
	}
}

func (s *Supervisor) runListener(ctx context.Context) {
	// Unblock Accept on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = s.ln.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("accept failed", "err", err)
			continue
		}
		slog.Info("peer connected", "addr", conn.RemoteAddr())
		link := wire.New(conn)
		s.replace(link)
		s.attach(link)
		// Keep accepting: a newer connection replaces this link.
		go s.pump(link)
	}
}

func (s *Supervisor) runDialer(ctx context.Context) {
	delay := reconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}
		s.state.Store(int32(Connecting))

		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", s.addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("dial failed, retrying",
				"addr", s.addr, "backoff", delay, "err", err)
			s.state.Store(int32(Disconnected))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxReconnect)
			continue
		}
		delay = reconnectDelay

		slog.Info("connected to peer", "addr", conn.RemoteAddr())
		link := wire.New(conn)
		s.replace(link)
		s.attach(link)

		// pump blocks in Recv, and a healthy peer never hangs up on its
		// own; close the link on cancellation so shutdown can proceed.
		stop := context.AfterFunc(ctx, func() { _ = link.Close() })
		s.pump(link)
		stop()

		if ctx.Err() != nil {
			return
		}
		slog.Info("link lost, reconnecting", "addr", s.addr)
	}
}

// attach hands link to the engine and publishes the Connected state. Always
// called on the role goroutine, so attach order matches accept/dial order,
// and Connected is only published once the engine has taken the link —
// anything observing Connected can rely on outbound sends reaching it.
func (s *Supervisor) attach(link *wire.Conn) {
	s.eng.AttachLink(link)
	s.state.Store(int32(Connected))
}

// pump feeds inbound frames into the engine until the link dies, then
// detaches and drops it.
func (s *Supervisor) pump(link *wire.Conn) {
	for {
		payload, err := link.Recv()
		if err != nil {
			if errors.Is(err, wire.ErrClosed) {
				slog.Info("peer disconnected")
			} else {
				slog.Warn("link receive failed", "err", err)
			}
			break
		}
		s.eng.Deliver(payload)
	}
	s.eng.DetachLink(link)
	s.drop(link)
}

// replace installs link as the current one, closing any predecessor. The old
// link's pump sees the close as a receive error and unwinds on its own.
func (s *Supervisor) replace(link *wire.Conn) {
	s.mu.Lock()
	old := s.current
	s.current = link
	s.mu.Unlock()

	if old != nil {
		slog.Info("replacing existing peer link")
		_ = old.Close()
	}
}

// drop closes link and, if it is still current, marks the supervisor
// disconnected. A link that was already replaced changes nothing.
func (s *Supervisor) drop(link *wire.Conn) {
	s.mu.Lock()
	isCurrent := s.current == link
	if isCurrent {
		s.current = nil
	}
	s.mu.Unlock()

	_ = link.Close()
	if isCurrent {
		s.state.Store(int32(Disconnected))
	}
}

func (s *Supervisor) close() {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Lock()
	link := s.current
	s.current = nil
	s.mu.Unlock()
	if link != nil {
		_ = link.Close()
	}
	s.state.Store(int32(Disconnected))
}
