package reconciler

import (
	"os"
	"sync"
	"time"
)

// RedirectMarker records that the user was just sent to the identity provider, so the
// next start knows a login is in progress. Consume reports and clears the mark.
type RedirectMarker interface {
	Set() error
	Consume() bool
}

// MemoryMarker lives for the lifetime of the process
type MemoryMarker struct {
	mu  sync.Mutex
	set bool
}

func (m *MemoryMarker) Set() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = true
	return nil
}

func (m *MemoryMarker) Consume() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.set
	m.set = false
	return was
}

// FileMarker survives a restart of the watcher between login and callback.
// A mark older than MaxAge is stale and ignored.
type FileMarker struct {
	Path   string
	MaxAge time.Duration
}

func (m FileMarker) Set() error {
	return os.WriteFile(m.Path, []byte(time.Now().UTC().Format(time.RFC3339)), 0o600)
}

func (m FileMarker) Consume() bool {
	info, err := os.Stat(m.Path)
	if err != nil {
		return false
	}
	_ = os.Remove(m.Path)
	return m.MaxAge <= 0 || time.Since(info.ModTime()) <= m.MaxAge
}
