// Package files resolves upload paths against the configured uploads root.
package files

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Resolver implements files.Resolver. Relative paths are joined to Root and
// may not climb out of it; absolute paths are returned cleaned.
type Resolver struct {
	Root string
}

func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads root %q: %w", root, err)
	}
	return &Resolver{Root: abs}, nil
}

func (r *Resolver) Resolve(path string) (string, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "file://")
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	joined := filepath.Join(r.Root, path)
	rel, err := filepath.Rel(r.Root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes uploads root", path)
	}
	return joined, nil
}
