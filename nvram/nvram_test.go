package nvram

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFilePersistAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "hwm.bin")

	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if b, err := f.Load(); err != nil || b != nil {
		t.Fatalf("fresh load = %x, %v", b, err)
	}

	if err := f.Persist([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := f.Persist([]byte{4, 5, 6, 7}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temporary file left behind: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	f2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f2.Close()
	b, err := f2.Load()
	if err != nil || !bytes.Equal(b, []byte{4, 5, 6, 7}) {
		t.Fatalf("reopened load = %x, %v", b, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != filePerm {
		t.Fatalf("record mode %v", info.Mode().Perm())
	}
}

func TestFileExclusiveLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwm.bin")
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := Open(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestMemoryFailNext(t *testing.T) {
	m := NewMemory([]byte{9})
	m.FailNext(errors.New("boom"))

	if err := m.Persist([]byte{1}); err == nil {
		t.Fatal("expected injected failure")
	}
	if b, _ := m.Load(); !bytes.Equal(b, []byte{9}) {
		t.Fatalf("record changed after failure: %x", b)
	}
	if err := m.Persist([]byte{1}); err != nil {
		t.Fatal(err)
	}
	if b, _ := m.Load(); !bytes.Equal(b, []byte{1}) || m.Writes() != 1 {
		t.Fatalf("record %x writes %d", b, m.Writes())
	}
}
