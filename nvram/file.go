// Package nvram persists the device record. Every Persist call either fully
// replaces the record or leaves the previous one in place.
package nvram

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

var ErrLocked = errors.New("record is locked by another process")

// File keeps the record in a single file. It holds an exclusive lock on
// path.lock from Open until Close so two daemons never share one record.
type File struct {
	path string
	lock *flock.Flock
}

func Open(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("create record directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &File{path: path, lock: lock}, nil
}

func (f *File) Path() string { return f.path }

// Load returns nil, nil when the record was never written.
func (f *File) Load() ([]byte, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

// Persist writes to a temporary file, syncs it, renames it over the record
// and syncs the directory. A crash at any point leaves either the old or the
// new record.
func (f *File) Persist(record []byte) error {
	tmp := f.path + ".tmp"

	w, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}
	if _, err := w.Write(record); err != nil {
		_ = w.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Sync(); err != nil {
		_ = w.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return syncDir(filepath.Dir(f.path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	return errors.Join(d.Sync(), d.Close())
}

func (f *File) Close() error {
	return f.lock.Unlock()
}
