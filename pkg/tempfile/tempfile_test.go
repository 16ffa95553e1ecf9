package tempfile

import (
	"os"
	"testing"
)

func TestNewTempDir_CreatesUniqueDirs(t *testing.T) {
	m := NewManager(t.TempDir())

	a, err := m.NewTempDir("sort")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	b, err := m.NewTempDir("sort")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if a == b {
		t.Errorf("Expected distinct dirs, got %q twice", a)
	}
	if _, err := os.Stat(a); err != nil {
		t.Errorf("Expected dir to exist: %v", err)
	}
}

func TestRelease_DeleteOnCloseRemovesAtZero(t *testing.T) {
	m := NewManager(t.TempDir())

	dir, err := m.NewTempDir("shuffle")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	m.Retain(dir)
	m.MarkDeleteOnClose(dir)

	m.Release(dir)
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Expected dir to survive first release: %v", err)
	}

	m.Release(dir)
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Expected dir removed after last release, got %v", err)
	}
}

func TestRelease_WithoutMarkKeepsDir(t *testing.T) {
	m := NewManager(t.TempDir())

	dir, err := m.NewTempDir("keep")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	m.Release(dir)

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Expected unmarked dir to remain: %v", err)
	}
}

func TestCleanupAll_RemovesMarkedDirs(t *testing.T) {
	m := NewManager(t.TempDir())

	doomed, _ := m.NewTempDir("doomed")
	kept, _ := m.NewTempDir("kept")
	m.MarkDeleteOnClose(doomed)

	m.CleanupAll()

	if _, err := os.Stat(doomed); !os.IsNotExist(err) {
		t.Errorf("Expected marked dir removed, got %v", err)
	}
	if _, err := os.Stat(kept); err != nil {
		t.Errorf("Expected unmarked dir kept: %v", err)
	}
}
