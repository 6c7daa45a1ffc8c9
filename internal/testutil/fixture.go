// Package testutil provides helpers shared by package tests: golden-file
// comparison and throwaway project trees.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// WriteTree creates files under root. Keys are slash-separated relative paths.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("Failed to create %s: %v", filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", p, err)
		}
	}
}

// TestdataPath returns the absolute path of name inside the calling
// package's testdata directory.
func TestdataPath(t *testing.T, name string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(1)
	if !ok {
		t.Fatal("Failed to determine caller")
	}
	return filepath.Join(filepath.Dir(file), "testdata", filepath.FromSlash(name))
}
