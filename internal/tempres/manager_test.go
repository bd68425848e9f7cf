package tempres

import (
	"os"
	"path/filepath"
	"testing"
)

func mustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("%s should be gone, stat err = %v", path, err)
	}
}

func TestCreateSessionDirPermissions(t *testing.T) {
	m := NewManager()
	dir, err := m.CreateSessionDir()
	if err != nil {
		t.Fatalf("create session dir: %v", err)
	}
	defer m.Cleanup()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("session dir perm = %o, want 0700", perm)
	}
}

func TestCreateFilePermissionsAndTracking(t *testing.T) {
	m := NewManager()
	dir, err := m.CreateSessionDir()
	if err != nil {
		t.Fatalf("create session dir: %v", err)
	}
	defer m.Cleanup()

	path, err := m.CreateFile(dir, "server.js", []byte("// generated"))
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file perm = %o, want 0600", perm)
	}

	resources := m.Resources()
	if len(resources) != 2 {
		t.Fatalf("tracked %d resources, want 2", len(resources))
	}
	if resources[0].Kind != KindDir || resources[1].Kind != KindFile {
		t.Errorf("tracked kinds = %v/%v, want dir then file", resources[0].Kind, resources[1].Kind)
	}
}

func TestCleanupDeletesFilesThenDirs(t *testing.T) {
	m := NewManager()
	dir, err := m.CreateSessionDir()
	if err != nil {
		t.Fatalf("create session dir: %v", err)
	}
	file, err := m.CreateFile(dir, "server.js", []byte("x"))
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	m.Cleanup()

	mustNotExist(t, file)
	mustNotExist(t, dir)
	if n := len(m.Resources()); n != 0 {
		t.Errorf("tracking set has %d entries after cleanup, want 0", n)
	}
}

func TestCleanupIdempotent(t *testing.T) {
	m := NewManager()
	dir, err := m.CreateSessionDir()
	if err != nil {
		t.Fatalf("create session dir: %v", err)
	}
	if _, err := m.CreateFile(dir, "a.js", []byte("x")); err != nil {
		t.Fatalf("create file: %v", err)
	}

	m.Cleanup()
	// Second call must delete nothing and raise nothing.
	m.Cleanup()

	if n := len(m.Resources()); n != 0 {
		t.Errorf("tracking set has %d entries, want 0", n)
	}
}

func TestCleanupToleratesAlreadyGone(t *testing.T) {
	m := NewManager()
	dir, err := m.CreateSessionDir()
	if err != nil {
		t.Fatalf("create session dir: %v", err)
	}
	file, err := m.CreateFile(dir, "a.js", []byte("x"))
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	// Delete out from under the manager before cleanup.
	if err := os.Remove(file); err != nil {
		t.Fatalf("pre-delete: %v", err)
	}

	m.Cleanup()
	mustNotExist(t, dir)
}

func TestCreateDirTracksNestedDir(t *testing.T) {
	m := NewManager()
	base := t.TempDir()
	nested := filepath.Join(base, "session", "assets")

	if err := m.CreateDir(nested); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	info, err := os.Stat(nested)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("dir perm = %o, want 0700", perm)
	}

	m.Cleanup()
	mustNotExist(t, nested)
}
