package clip

// headlessBackend is a no-op clipboard backend for environments without a
// display server. Reads always see an empty clipboard and writes are
// silently discarded.
type headlessBackend struct{}

func (headlessBackend) Name() string          { return "headless (no-op)" }
func (headlessBackend) Read() ([]byte, error) { return nil, nil }
func (headlessBackend) Write(_ []byte) error  { return nil }
func (headlessBackend) Clear() error          { return nil }
func (headlessBackend) Close()                {}
