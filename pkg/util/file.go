// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// ReadFileSafely reads a file after cleaning and validating the path.
func ReadFileSafely(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path for %s: %w", path, err)
	}
	return os.ReadFile(absPath) // #nosec G304
}

// OpenAppend opens path for appending, creating it and its parent
// directory when missing. The returned size is the file length before any
// new writes.
func OpenAppend(path string) (*os.File, int64, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, 0, fmt.Errorf("could not get absolute path for %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, 0, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	f, err := os.OpenFile(absPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644) // #nosec G304
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return f, info.Size(), nil
}
