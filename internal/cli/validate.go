package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveClipPath checks that path names a readable regular file and returns
// its absolute form. s3:// URIs are returned unchanged.
func ResolveClipPath(path string) (string, error) {
	if strings.HasPrefix(path, "s3://") {
		return path, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("clip not found: %s", path)
		}
		return "", fmt.Errorf("access clip %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("clip path is a directory: %s", path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}
