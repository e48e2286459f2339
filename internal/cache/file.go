package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the latest forecast in a JSON file and mirrors it in
// memory. Other keys are held in memory only.
type FileStore struct {
	path string

	mu     sync.RWMutex
	docs   map[string][]byte
	latest []byte
}

// NewFileStore creates a FileStore backed by path. The file need not exist.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("cache file path is empty")
	}
	return &FileStore{path: path, docs: make(map[string][]byte)}, nil
}

// Put writes doc to the backing file through a temporary file and rename,
// so readers never see a partial document.
func (s *FileStore) Put(_ context.Context, key string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace cache: %w", err)
	}

	cp := append([]byte(nil), doc...)
	s.docs[key] = cp
	s.latest = cp
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	doc, ok := s.docs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

// Latest returns the in-memory copy, loading the file on first use.
func (s *FileStore) Latest(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	doc := s.latest
	s.mu.RUnlock()
	if doc != nil {
		return append([]byte(nil), doc...), nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	if s.latest == nil {
		s.latest = data
	}
	s.mu.Unlock()
	return append([]byte(nil), data...), nil
}
