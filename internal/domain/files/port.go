package files

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrFileNotFound is returned when a resolved path does not exist.
var ErrFileNotFound = errors.New("file not found")

// Resolver turns a possibly-relative path into an absolute one under a configured root.
// It never checks existence.
type Resolver interface {
	Resolve(path string) (string, error)
}

// ObjectStore archives local files and returns their public URL.
type ObjectStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// Locate resolves path and checks that it exists as a regular file.
func Locate(r Resolver, path string) (string, error) {
	abs, err := r.Resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, abs)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrFileNotFound, abs)
	}
	return abs, nil
}
