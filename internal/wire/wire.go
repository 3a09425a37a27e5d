// Package wire handles reading and writing length-prefixed binary frames
// over a net.Conn.
//
// Wire format:
//
//	<uint32 big-endian payload length> <payload bytes>
//
// Clipboard payloads are arbitrary binary — they may contain newlines, NUL
// bytes, or anything else — so the framing never inspects the payload. The
// length header alone delimits messages.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

const (
	// MaxFrameSize is the largest payload we will send or accept (16 MiB).
	MaxFrameSize = 16 * 1024 * 1024

	headerSize    = 4
	writeDeadline = 5 * time.Second
)

// ErrClosed reports that the peer disconnected or the underlying socket
// failed. The connection is unusable afterwards; the caller is expected to
// drop it and let the supervisor establish a fresh one.
var ErrClosed = errors.New("wire: link closed")

// ErrFrameTooLarge reports a frame exceeding MaxFrameSize in either direction.
var ErrFrameTooLarge = errors.New("wire: frame too large")

// Conn wraps a net.Conn with buffered length-prefixed framing.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
}

// New wraps conn.
func New(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64*1024),
	}
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// Send writes one frame: a 4-byte big-endian length header followed by the
// payload. An empty payload is a valid frame (a cleared clipboard).
func (c *Conn) Send(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_, err := c.conn.Write(buf)
	_ = c.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return closedErr(err)
	}
	return nil
}

// Recv blocks until one full frame is available and returns its payload.
// It returns ErrClosed when the peer disconnects or the socket errs.
func (c *Conn) Recv() ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		return nil, closedErr(err)
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(c.br, payload); err != nil {
		return nil, closedErr(err)
	}
	return payload, nil
}

// closedErr maps the zoo of peer-disconnect errors onto ErrClosed so callers
// have a single sentinel to test with errors.Is.
func closedErr(err error) error {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
