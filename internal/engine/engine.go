// Package engine implements the clipboard synchronization state machine.
//
// The engine is the single owner of the clipboard snapshot: every input —
// local watcher events, inbound peer frames, link attach/detach — is funneled
// through one goroutine and processed to completion before the next is
// considered. Loop prevention does not need any protocol support; it falls
// out of two rules applied at this single serialization point:
//
//  1. Content equal to the current snapshot is never propagated, in either
//     direction.
//  2. A remote update written to the clipboard is reported to the watcher
//     (Observer.Observe) so the next poll sees nothing new and the value is
//     not re-detected as a local change.
package engine

import (
	"bytes"
	"context"
	"log/slog"

	"go.klb.dev/clipmirror/internal/watcher"
)

// Origin tags who produced the snapshot's content.
type Origin uint8

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// Snapshot is the engine's authoritative record of the last clipboard value
// it is aware of, and who produced it.
type Snapshot struct {
	Content  []byte
	Revision uint64
	Origin   Origin
}

// Clipboard is the write half of the clipboard capability.
type Clipboard interface {
	Write(content []byte) error
}

// Observer is told about clipboard writes the engine performs itself, so
// change detection can advance its baseline without emitting an event.
// *watcher.Watcher implements it.
type Observer interface {
	Observe(content []byte)
}

// Link is the outbound half of a peer connection. *wire.Conn implements it.
type Link interface {
	Send(payload []byte) error
	Close() error
}

// Status is a point-in-time view of the engine for the status IPC.
type Status struct {
	Linked       bool   `json:"linked"`
	Revision     uint64 `json:"revision"`
	Origin       string `json:"origin"`
	ContentBytes int    `json:"content_bytes"`
}

type linkOp struct {
	link   Link
	attach bool
}

// Engine consumes watcher events and inbound peer frames, decides per the
// loop-breaking rules whether to propagate each one, performs clipboard
// writes for accepted remote updates, and drives outbound sends for accepted
// local changes.
type Engine struct {
	clipboard Clipboard
	observer  Observer
	events    <-chan watcher.Event

	inbound   chan []byte
	linkOps   chan linkOp
	statusReq chan chan Status
	done      chan struct{}

	// Owned by Run; never touched outside the run loop.
	snapshot Snapshot
	link     Link
}

// New creates an Engine reading local changes from events. Nothing happens
// until Run is called.
func New(clipboard Clipboard, observer Observer, events <-chan watcher.Event) *Engine {
	return &Engine{
		clipboard: clipboard,
		observer:  observer,
		events:    events,
		inbound:   make(chan []byte, 16),
		linkOps:   make(chan linkOp),
		statusReq: make(chan chan Status),
		done:      make(chan struct{}),
	}
}

// Run processes inputs until ctx is cancelled. Blocks; call in a goroutine.
// AttachLink, DetachLink, Deliver and Status require Run to be running.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.handleLocal(ev.Content)
		case payload := <-e.inbound:
			e.handleRemote(payload)
		case op := <-e.linkOps:
			e.handleLinkOp(op)
		case reply := <-e.statusReq:
			reply <- Status{
				Linked:       e.link != nil,
				Revision:     e.snapshot.Revision,
				Origin:       e.snapshot.Origin.String(),
				ContentBytes: len(e.snapshot.Content),
			}
		}
	}
}

// AttachLink makes l the engine's current peer link. Any previously attached
// link is simply forgotten — closing it is the supervisor's job.
func (e *Engine) AttachLink(l Link) {
	select {
	case e.linkOps <- linkOp{link: l, attach: true}:
	case <-e.done:
	}
}

// DetachLink removes l if it is still the current link. Detaching a link that
// has already been replaced is a no-op.
func (e *Engine) DetachLink(l Link) {
	select {
	case e.linkOps <- linkOp{link: l}:
	case <-e.done:
	}
}

// Deliver hands an inbound peer payload to the engine. Dropped if the engine
// has stopped.
func (e *Engine) Deliver(payload []byte) {
	select {
	case e.inbound <- payload:
	case <-e.done:
	}
}

// Status returns the engine's current state. Zero value after shutdown.
func (e *Engine) Status() Status {
	reply := make(chan Status, 1)
	select {
	case e.statusReq <- reply:
		return <-reply
	case <-e.done:
		return Status{}
	}
}

func (e *Engine) handleLocal(content []byte) {
	if bytes.Equal(content, e.snapshot.Content) {
		// Duplicate detection tick, or our own remote-origin write.
		return
	}
	e.snapshot = Snapshot{
		Content:  content,
		Revision: e.snapshot.Revision + 1,
		Origin:   OriginLocal,
	}

	if e.link == nil {
		// Not queued: if the change is still current when a link comes
		// back it lives on in the snapshot, nothing else is replayed.
		slog.Debug("local change with no peer link, dropped",
			"revision", e.snapshot.Revision)
		return
	}
	if err := e.link.Send(content); err != nil {
		slog.Warn("peer send failed", "err", err)
		return
	}
	slog.Debug("local change sent",
		"revision", e.snapshot.Revision, "bytes", len(content))
}

func (e *Engine) handleRemote(payload []byte) {
	if bytes.Equal(payload, e.snapshot.Content) {
		// The peer is echoing what we already hold.
		return
	}
	if err := e.clipboard.Write(payload); err != nil {
		// Snapshot stays untouched so an identical retry from the peer
		// is not mistaken for already-applied content.
		slog.Warn("clipboard write failed, discarding remote update", "err", err)
		return
	}
	e.observer.Observe(payload)
	e.snapshot = Snapshot{
		Content:  payload,
		Revision: e.snapshot.Revision + 1,
		Origin:   OriginRemote,
	}
	slog.Debug("remote change applied",
		"revision", e.snapshot.Revision, "bytes", len(payload))
}

func (e *Engine) handleLinkOp(op linkOp) {
	if op.attach {
		e.link = op.link
		return
	}
	if e.link == op.link {
		e.link = nil
	}
}
