// Package local implements the object store on a local directory tree.
// Intended for development and tests; keys map directly to file paths.
package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	lkerrors "github.com/lakelift/lakelift/pkg/errors"
)

// Store writes partition files under a root directory
type Store struct {
	root string
}

// NewStore creates a local store rooted at dir
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeStorage, "failed to create storage root")
	}
	return &Store{root: dir}, nil
}

// Put writes an object, replacing any existing file at key
func (s *Store) Put(_ context.Context, key string, body io.Reader) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeStorage, "failed to create partition directory")
	}

	f, err := os.Create(path)
	if err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeStorage, "failed to create partition file")
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeStorage, "failed to write partition file")
	}
	return nil
}

// List returns the keys under a prefix
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, lkerrors.Wrap(err, lkerrors.ErrorTypeStorage, "failed to list storage root")
	}

	return keys, nil
}

// BaseURI returns the root directory as a file URI
func (s *Store) BaseURI() string {
	return "file://" + filepath.ToSlash(s.root)
}

// Ping verifies the root directory exists
func (s *Store) Ping(_ context.Context) error {
	if _, err := os.Stat(s.root); err != nil {
		return lkerrors.Wrap(err, lkerrors.ErrorTypeConnection, "storage root not accessible")
	}
	return nil
}
