// Package artifacts stores images produced by the processing service on
// local disk and hands out opaque references to them.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned for references that do not resolve to a file
var ErrNotFound = errors.New("artifact not found")

// Store writes artifacts under a base directory
type Store struct {
	dir string
}

// New creates a store rooted at dir, creating it if needed
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifacts directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes data and returns its reference. The extension is derived from
// the content type so downloads keep a sensible name.
func (s *Store) Save(contentType string, data []byte) (string, error) {
	ref := uuid.New().String() + extensionFor(contentType)
	if err := os.WriteFile(filepath.Join(s.dir, ref), data, 0644); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	return ref, nil
}

// Path resolves a reference to a file path
func (s *Store) Path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", ErrNotFound
	}
	path := filepath.Join(s.dir, ref)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return path, nil
}

// Read returns the bytes of a stored artifact
func (s *Store) Read(ref string) ([]byte, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
