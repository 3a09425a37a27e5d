// Package clip provides access to the system clipboard as an opaque byte
// payload, backed by golang.design/x/clipboard. On hosts without a usable
// display environment (headless servers, containers, CI) New falls back to a
// no-op backend so the rest of the program keeps working.
package clip

// Backend is the capability the sync engine uses to touch the OS clipboard.
// All methods must be safe to call repeatedly; errors are treated as
// transient by callers.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current clipboard contents. An empty clipboard
	// reads as a nil slice, not an error.
	Read() ([]byte, error)

	// Write replaces the clipboard contents.
	Write(content []byte) error

	// Clear empties the clipboard.
	Clear() error

	// Close releases any resources held by the backend.
	Close()
}
