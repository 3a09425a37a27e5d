package clip

import (
	"log/slog"

	"golang.design/x/clipboard"
)

type nativeBackend struct{}

// New returns the system clipboard backend, or a headless no-op backend if
// the display environment is unavailable (e.g. a server without X11 or
// Wayland). clipboard.Init is called here rather than in init() so that CLI
// sub-commands (status, version) never touch the display at all.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return headlessBackend{}
	}
	return nativeBackend{}
}

func (nativeBackend) Name() string { return "system clipboard" }

func (nativeBackend) Read() ([]byte, error) {
	return clipboard.Read(clipboard.FmtText), nil
}

func (nativeBackend) Write(content []byte) error {
	clipboard.Write(clipboard.FmtText, content)
	return nil
}

func (nativeBackend) Clear() error {
	clipboard.Write(clipboard.FmtText, nil)
	return nil
}

func (nativeBackend) Close() {}
