// Package ipc provides the local Unix-socket channel a running clipmirror
// daemon exposes for the status CLI. The protocol is one JSON status document
// per connection: the daemon writes it and closes; the client reads it.
package ipc

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// SocketPath returns the platform-appropriate path for the IPC socket.
//
//   - Linux:         $XDG_RUNTIME_DIR/clipmirror.sock when set
//   - macOS / other: $TMPDIR/clipmirror.sock
//   - override with $CLIPMIRROR_SOCKET
func SocketPath() string {
	if s := os.Getenv("CLIPMIRROR_SOCKET"); s != "" {
		return s
	}
	if runtime.GOOS == "windows" {
		return `\\.\pipe\clipmirror`
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "clipmirror.sock")
	}
	return filepath.Join(os.TempDir(), "clipmirror.sock")
}

// Listen creates a net.Listener on the IPC socket path, removing any stale
// socket file from a previous (crashed) run first.
func Listen() (net.Listener, error) {
	path := SocketPath()
	_ = os.Remove(path)
	return net.Listen("unix", path)
}

// Dial connects to a running daemon's IPC socket.
func Dial() (net.Conn, error) {
	conn, err := net.Dial("unix", SocketPath())
	if err != nil {
		return nil, fmt.Errorf("no running clipmirror daemon at %s: %w", SocketPath(), err)
	}
	return conn, nil
}

// Status is the document the daemon reports over the IPC socket.
type Status struct {
	Version      string    `json:"version"`
	Role         string    `json:"role"`
	Link         string    `json:"link"`
	PeerAddr     string    `json:"peer_addr,omitempty"`
	Revision     uint64    `json:"revision"`
	Origin       string    `json:"origin"`
	ContentBytes int       `json:"content_bytes"`
	StartedAt    time.Time `json:"started_at"`
}

// WriteStatus serialises st to w as a single JSON document.
func WriteStatus(w io.Writer, st Status) error {
	return json.NewEncoder(w).Encode(st)
}

// ReadStatus reads one JSON status document from r.
func ReadStatus(r io.Reader) (Status, error) {
	var st Status
	if err := json.NewDecoder(r).Decode(&st); err != nil {
		return Status{}, fmt.Errorf("status decode: %w", err)
	}
	return st, nil
}
