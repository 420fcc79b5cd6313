package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FS serves keys from a local datasets root.
type FS struct {
	root string
}

// NewFS creates a filesystem store rooted at root. The directory must exist.
func NewFS(root string) (*FS, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("datasets root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("datasets root %s is not a directory", root)
	}
	return &FS{root: root}, nil
}

// Exists reports whether key names an existing file.
func (f *FS) Exists(_ context.Context, key string) (bool, error) {
	full, err := f.safePath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Fetch returns the on-disk path of key; release is a no-op.
func (f *FS) Fetch(_ context.Context, key string) (string, func(), error) {
	full, err := f.safePath(key)
	if err != nil {
		return "", nil, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return "", nil, err
	}
	return full, func() {}, nil
}

func (f *FS) safePath(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if key == "" || cleaned == "." || filepath.IsAbs(cleaned) {
		return "", ErrInvalidKey
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return filepath.Join(f.root, cleaned), nil
}
