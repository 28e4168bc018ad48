package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store keeps shared files in a flat directory keyed by original filename.
// A second upload with the same name overwrites the first; there is no
// versioning.
type Store struct {
	dir string
}

// New creates the storage directory if needed and returns a store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the storage directory path.
func (s *Store) Dir() string {
	return s.dir
}

// sanitize reduces an uploaded filename to a safe flat key. Path separators
// and traversal components are stripped.
func sanitize(filename string) (string, error) {
	name := filepath.Base(filepath.Clean(filename))
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	return name, nil
}

// Save writes the contents of r under filename, overwriting any existing
// file, and returns the number of bytes stored.
func (s *Store) Save(filename string, r io.Reader) (int64, error) {
	name, err := sanitize(filename)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return n, fmt.Errorf("write file: %w", err)
	}
	return n, nil
}

// Exists reports whether filename is present in the store.
func (s *Store) Exists(filename string) bool {
	name, err := sanitize(filename)
	if err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(s.dir, name))
	return err == nil && info.Mode().IsRegular()
}

// Open opens a stored file for reading along with its metadata.
func (s *Store) Open(filename string) (*os.File, os.FileInfo, error) {
	name, err := sanitize(filename)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}
