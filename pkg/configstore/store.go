// Package configstore abstracts the file operations the provider
// performs: reading unit definition files and maintaining the output
// directory of generated artifacts.
package configstore

import (
	"os"

	"github.com/unit-tools/traefik-unit-provider/pkg/errors"
)

// Store is the filesystem capability consumed by discovery and the
// reconciler.
type Store interface {
	// Exists reports whether path names an existing regular file.
	Exists(path string) bool
	ReadToString(path string) (string, error)
	Write(path string, contents string) error
	// RemoveFile deletes path; removing an absent file is a no-op.
	RemoveFile(path string) error
	CreateDirAll(path string) error
}

type osStore struct{}

// NewOSStore returns a Store backed by the real filesystem.
func NewOSStore() Store {
	return osStore{}
}

func (osStore) Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

func (osStore) ReadToString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.NewIOError("failed to read file", err).WithContext("path", path)
	}
	return string(data), nil
}

func (osStore) Write(path string, contents string) error {
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return errors.NewIOError("failed to write file", err).WithContext("path", path)
	}
	return nil
}

func (osStore) RemoveFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove file", err).WithContext("path", path)
	}
	return nil
}

func (osStore) CreateDirAll(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.NewIOError("failed to create directory", err).WithContext("path", path)
	}
	return nil
}
