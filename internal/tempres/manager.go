// Package tempres tracks temporary files and directories created for one
// preview session and guarantees their removal when it ends.
package tempres

import (
	"log"
	"os"
	"path/filepath"
	"sync"
)

type Kind int

const (
	KindFile Kind = iota
	KindDir
)

func (k Kind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// Resource is one tracked path. Files are deleted before directories so
// Cleanup never tries to remove a non-empty directory ahead of its contents.
type Resource struct {
	Kind Kind
	Path string
}

type Manager struct {
	mu        sync.Mutex
	resources []Resource
}

func NewManager() *Manager {
	return &Manager{}
}

// CreateSessionDir creates the session-scoped base directory with owner-only
// permissions and tracks it for cleanup.
func (m *Manager) CreateSessionDir() (string, error) {
	dir, err := os.MkdirTemp("", "previewd-")
	if err != nil {
		return "", err
	}
	// MkdirTemp creates 0700 dirs; make the restriction explicit anyway.
	if err := os.Chmod(dir, 0o700); err != nil {
		_ = os.Remove(dir)
		return "", err
	}
	m.track(Resource{Kind: KindDir, Path: dir})
	return dir, nil
}

// CreateDir ensures path exists with owner-only permissions and tracks it.
func (m *Manager) CreateDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return err
	}
	m.track(Resource{Kind: KindDir, Path: path})
	return nil
}

// CreateFile writes content to dir/name with owner-only permissions and
// tracks the file. Returns the created path.
func (m *Manager) CreateFile(dir, name string, content []byte) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", err
	}
	m.track(Resource{Kind: KindFile, Path: path})
	return path, nil
}

func (m *Manager) track(r Resource) {
	m.mu.Lock()
	m.resources = append(m.resources, r)
	m.mu.Unlock()
}

// Resources returns a copy of the tracked set.
func (m *Manager) Resources() []Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Resource, len(m.resources))
	copy(out, m.resources)
	return out
}

// Cleanup deletes every tracked resource: files first, then directories
// recursively. "Already gone" is not a failure; real failures are logged and
// never propagated. The tracking set is cleared unconditionally, so calling
// Cleanup twice is a no-op the second time.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	resources := m.resources
	m.resources = nil
	m.mu.Unlock()

	for _, r := range resources {
		if r.Kind != KindFile {
			continue
		}
		if err := os.Remove(r.Path); err != nil && !os.IsNotExist(err) {
			log.Printf("tempres: removing file %s: %v", r.Path, err)
		}
	}
	for _, r := range resources {
		if r.Kind != KindDir {
			continue
		}
		if err := os.RemoveAll(r.Path); err != nil {
			log.Printf("tempres: removing dir %s: %v", r.Path, err)
		}
	}
}
