package pdf

import (
	"fmt"
	"path/filepath"
)

// AbsPath returns the absolute, symlink-free form of path. Documents are
// fingerprinted by path, so every entry point resolves paths the same way.
func AbsPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("document path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}
