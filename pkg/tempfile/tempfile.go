// Package tempfile owns the lifetime of the engine's scratch files.
//
// Sort and shuffle intermediates, cancelled materializations, and any frame
// marked delete-on-close register their directories here. A registered
// directory is reference counted: Retain/Release track the readers that still
// point at it, and a directory marked delete-on-close is unlinked when the
// last reference drops. CleanupAll removes every delete-on-close directory
// still registered at process exit; unmarked directories stay on disk.
package tempfile

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"xframe/pkg/logging"
)

// Manager tracks temporary directories created by the engine.
type Manager struct {
	mu      sync.Mutex
	root    string
	entries map[string]*entry
}

type entry struct {
	refs          int
	deleteOnClose bool
}

var (
	defaultOnce sync.Once
	defaultMgr  *Manager
)

// DefaultManager returns the process-wide manager, rooted under the system
// temp directory.
func DefaultManager() *Manager {
	defaultOnce.Do(func() {
		defaultMgr = NewManager(filepath.Join(os.TempDir(), "xframe"))
	})
	return defaultMgr
}

// NewManager creates a manager that allocates directories under root.
func NewManager(root string) *Manager {
	return &Manager{
		root:    root,
		entries: make(map[string]*entry),
	}
}

// NewTempDir creates a fresh uniquely named directory and registers it with
// one reference held by the caller.
func (m *Manager) NewTempDir(prefix string) (string, error) {
	name := prefix + "-" + uuid.NewString()
	dir := filepath.Join(m.root, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.entries[dir] = &entry{refs: 1}
	m.mu.Unlock()
	return dir, nil
}

// Retain adds a reference to a registered directory. Unknown paths are
// ignored, which lets callers retain unconditionally.
func (m *Manager) Retain(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[dir]; ok {
		e.refs++
	}
}

// MarkDeleteOnClose arranges for dir to be unlinked when its last reference
// is released.
func (m *Manager) MarkDeleteOnClose(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[dir]; ok {
		e.deleteOnClose = true
	}
}

// Release drops one reference. When the count reaches zero and the directory
// is marked delete-on-close, it is removed from disk.
func (m *Manager) Release(dir string) {
	m.mu.Lock()
	e, ok := m.entries[dir]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.refs--
	remove := e.refs <= 0 && e.deleteOnClose
	if e.refs <= 0 {
		delete(m.entries, dir)
	}
	m.mu.Unlock()

	if remove {
		if err := os.RemoveAll(dir); err != nil {
			logging.WithError(err).Warn("failed to remove temp dir", "dir", dir)
		}
	}
}

// CleanupAll removes every directory still registered as delete-on-close,
// regardless of reference counts. Call at process exit.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	var doomed []string
	for dir, e := range m.entries {
		if e.deleteOnClose {
			doomed = append(doomed, dir)
		}
	}
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, dir := range doomed {
		if err := os.RemoveAll(dir); err != nil {
			logging.WithError(err).Warn("failed to remove temp dir", "dir", dir)
		}
	}
}
