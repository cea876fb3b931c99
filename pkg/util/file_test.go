// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFileSafely(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debug: true\n"), 0o600))

	data, err := ReadFileSafely(path)
	require.NoError(t, err)
	assert.Equal(t, "debug: true\n", string(data))

	_, err = ReadFileSafely(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOpenAppend_CreatesParentAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "readings.csv")

	f, size, err := OpenAppend(path)
	require.NoError(t, err)
	assert.Zero(t, size)
	_, err = f.WriteString("first\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, size, err = OpenAppend(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len("first\n")), size)
	_, err = f.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}
