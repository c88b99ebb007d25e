package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// libraryName is the onnxruntime shared library file name for goos.
func libraryName(goos string) string {
	switch goos {
	case "darwin":
		return "libonnxruntime.1.20.0.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so.1.20.0"
	}
}

// resolveLibraryPath accepts either the library file itself or a directory
// holding it under the default name for this OS.
func resolveLibraryPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("onnxruntime library not found: %w", err)
	}

	if info.IsDir() {
		path = filepath.Join(path, libraryName(runtime.GOOS))
		if info, err = os.Stat(path); err != nil {
			return "", fmt.Errorf("onnxruntime library not found: %w", err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("onnxruntime library path is a directory: %s", path)
		}
	}

	return filepath.Abs(path)
}

// checkModelFile fails early when the model file is missing.
func checkModelFile(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}
