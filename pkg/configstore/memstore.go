package configstore

import (
	"sync"

	"github.com/unit-tools/traefik-unit-provider/pkg/errors"
)

// MemStore is an in-memory Store used by tests and available as an
// injected capability where no real filesystem is wanted.
type MemStore struct {
	mu    sync.Mutex
	files map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		files: make(map[string]string),
	}
}

// AddFile seeds a file, overwriting any previous content.
func (s *MemStore) AddFile(path, contents string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = contents
}

// Content returns a file's content and whether it exists.
func (s *MemStore) Content(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contents, ok := s.files[path]
	return contents, ok
}

func (s *MemStore) Exists(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[path]
	return ok
}

func (s *MemStore) ReadToString(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contents, ok := s.files[path]
	if !ok {
		return "", errors.NewNotFoundError("file not found", nil).WithContext("path", path)
	}
	return contents, nil
}

func (s *MemStore) Write(path string, contents string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = contents
	return nil
}

func (s *MemStore) RemoveFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
	return nil
}

func (s *MemStore) CreateDirAll(path string) error {
	return nil
}
