package filewriter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sink persists file payloads under a fixed base directory, creating parent
// directories as needed and overwriting existing files.
type Sink struct {
	root string
}

// NewSink ensures the base directory exists and returns a Sink rooted there.
func NewSink(root string) (*Sink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", root, err)
	}
	return &Sink{root: root}, nil
}

// Root returns the base directory.
func (s *Sink) Root() string {
	return s.root
}

// Write resolves path under the base directory and writes data there. Paths
// that escape the base directory are rejected.
func (s *Sink) Write(path string, data []byte) error {
	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", target, err)
	}
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

func (s *Sink) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty file path")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute file path %s not allowed", path)
	}
	target := filepath.Join(s.root, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file path %s escapes output dir", path)
	}
	return target, nil
}
