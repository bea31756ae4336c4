// Package store puts an explicit key-value interface in front of the
// per-session bookkeeping files vncserver maintains under ~/.vnc. The files
// act as a makeshift store keyed by "<host>:<display>"; wrapping them lets
// liveness checks and teardown read and remove entries without sprinkling
// path construction through the codebase, and lets tests swap in a
// directory of their own.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/uw-psych/hyakvnc/cluster"
)

// Store is a minimal key-value store. Missing keys are not errors: Get
// reports found=false and Delete of an absent key succeeds.
type Store interface {
	Get(key string) (value string, found bool, err error)
	Put(key, value string) error
	Delete(key string) error
	Keys() ([]string, error)
}

// FileStore stores one value per file in a directory. The key is the file
// name (minus the configured suffix) and the value is the trimmed file
// contents.
type FileStore struct {
	dir    string
	suffix string
}

// NewFileStore returns a FileStore over dir. suffix is appended to every
// key's file name (".pid" for the vncserver bookkeeping directory).
func NewFileStore(dir, suffix string) *FileStore {
	return &FileStore{dir: dir, suffix: suffix}
}

// Get reads the value for key. A missing file is ("", false, nil).
func (s *FileStore) Get(key string) (string, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(string(data)), true, nil
}

// Put writes the value for key, creating the directory if needed.
func (s *FileStore) Put(key, value string) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(s.path(key), []byte(value+"\n"), 0600)
}

// Delete removes the entry for key. Removing an absent key is success.
func (s *FileStore) Delete(key string) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Keys lists all keys present in the store. A missing directory yields an
// empty list, not an error.
func (s *FileStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if s.suffix != "" {
			if !strings.HasSuffix(name, s.suffix) {
				continue
			}
			name = strings.TrimSuffix(name, s.suffix)
		}
		keys = append(keys, name)
	}
	return keys, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+s.suffix)
}

var _ Store = (*FileStore)(nil)

// SessionKey builds the bookkeeping key vncserver uses for a session:
// "<full-hostname>:<display>".
func SessionKey(hostname string, display cluster.Display) string {
	return fmt.Sprintf("%s:%d", hostname, display)
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	m map[string]string
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string]string)}
}

func (s *MemStore) Get(key string) (string, bool, error) {
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MemStore) Put(key, value string) error {
	s.m[key] = value
	return nil
}

func (s *MemStore) Delete(key string) error {
	delete(s.m, key)
	return nil
}

func (s *MemStore) Keys() ([]string, error) {
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys, nil
}

var _ Store = (*MemStore)(nil)
