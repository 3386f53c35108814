// Package store provides durable, corruption-safe persistence for the
// launcher's logical documents: one JSON file per collection, each replaced
// atomically via write-to-temp-then-rename. The design assumes a single
// owning process; there is no cross-process locking.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Well-known document ids. Each maps to <data-dir>/<id>.json.
const (
	DocProfiles  = "profiles"
	DocFolders   = "folders"
	DocSettings  = "settings"
	DocProxyPool = "proxy_pool"
	DocTagPool   = "tags_pool"
	DocTrash     = "trash"
)

// StorageError wraps an I/O or (de)serialization failure for one document.
type StorageError struct {
	Doc string
	Op  string // "read" or "write"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Doc, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store persists documents under a single data directory.
type Store struct {
	dir string
}

// New creates the data directory if needed and returns a store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the data directory the store is rooted at.
func (s *Store) Dir() string { return s.dir }

// Path returns the file path backing a document id.
func (s *Store) Path(doc string) string {
	return filepath.Join(s.dir, doc+".json")
}

// Exists reports whether a document has ever been written.
func (s *Store) Exists(doc string) bool {
	_, err := os.Stat(s.Path(doc))
	return err == nil
}

// Write atomically replaces the document with the JSON encoding of v.
// On any failure the previously persisted version remains untouched.
func (s *Store) Write(doc string, v any) error {
	if err := WriteFileAtomic(s.Path(doc), v); err != nil {
		return &StorageError{Doc: doc, Op: "write", Err: err}
	}
	return nil
}

// Read unmarshals the document into v. A missing file surfaces as a
// StorageError wrapping os.ErrNotExist so callers can decide whether missing
// means "use defaults".
func (s *Store) Read(doc string, v any) error {
	data, err := os.ReadFile(s.Path(doc))
	if err != nil {
		return &StorageError{Doc: doc, Op: "read", Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &StorageError{Doc: doc, Op: "read", Err: err}
	}
	return nil
}

// WriteFileAtomic writes the JSON encoding of v to path via a temp file in
// the same directory followed by an atomic rename. The temp file is removed
// on every failure path.
func WriteFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set temp file mode: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// ReadFileJSON reads a standalone JSON file into v. Used for per-profile
// state files living outside the document set.
func ReadFileJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
