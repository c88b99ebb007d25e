package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraryName(t *testing.T) {
	assert.Equal(t, "libonnxruntime.so.1.20.0", libraryName("linux"))
	assert.Equal(t, "libonnxruntime.1.20.0.dylib", libraryName("darwin"))
	assert.Equal(t, "onnxruntime.dll", libraryName("windows"))
}

func TestResolveLibraryPath(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, libraryName(runtime.GOOS))
	require.NoError(t, os.WriteFile(lib, []byte("elf"), 0o644))

	t.Run("directory holding the library", func(t *testing.T) {
		got, err := resolveLibraryPath(dir)
		require.NoError(t, err)
		assert.Equal(t, lib, got)
	})

	t.Run("library file", func(t *testing.T) {
		got, err := resolveLibraryPath(lib)
		require.NoError(t, err)
		assert.Equal(t, lib, got)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := resolveLibraryPath(filepath.Join(dir, "nope"))
		assert.Error(t, err)
	})

	t.Run("directory without the library", func(t *testing.T) {
		_, err := resolveLibraryPath(t.TempDir())
		assert.Error(t, err)
	})
}

func TestCheckModelFile(t *testing.T) {
	model := filepath.Join(t.TempDir(), "model.onnx")
	assert.Error(t, checkModelFile(model))
	require.NoError(t, os.WriteFile(model, nil, 0o644))
	assert.NoError(t, checkModelFile(model))
}
