package testutil

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// updateGolden rewrites golden files instead of comparing against them.
// Use: go test ./... -run TestGolden -update
var updateGolden = flag.Bool("update", false, "update golden files")

// ShouldUpdate returns true if golden files should be updated.
func ShouldUpdate() bool {
	return *updateGolden
}

// CompareGolden compares got with the file at goldenPath and fails with a
// line diff on mismatch. With -update the file is rewritten instead.
func CompareGolden(t *testing.T, goldenPath string, got []byte) {
	t.Helper()

	if *updateGolden {
		UpdateGolden(t, goldenPath, got)
		t.Logf("Updated golden: %s", goldenPath)
		return
	}

	expected, err := os.ReadFile(goldenPath)
	if err != nil {
		if os.IsNotExist(err) {
			t.Fatalf("Golden file missing: %s\n\nGot:\n%s\n\nRun with -update to create:\n  go test ./... -run %s -update",
				goldenPath, got, t.Name())
		}
		t.Fatalf("Failed to read golden file: %v", err)
	}

	if !bytes.Equal(normalizeNewlines(expected), normalizeNewlines(got)) {
		t.Fatalf("Golden mismatch for %s:\n%s\n\nRun with -update to refresh:\n  go test ./... -run %s -update",
			goldenPath, lineDiff(string(expected), string(got), goldenPath), t.Name())
	}
}

// UpdateGolden writes data to goldenPath, creating parent directories.
func UpdateGolden(t *testing.T, goldenPath string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
		t.Fatalf("Failed to create golden directory: %v", err)
	}
	if err := os.WriteFile(goldenPath, data, 0o644); err != nil {
		t.Fatalf("Failed to write golden file: %v", err)
	}
}

func normalizeNewlines(b []byte) []byte {
	return bytes.TrimRight(bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n")), "\n")
}

// lineDiff lists the lines that differ, with their line numbers.
func lineDiff(expected, got, path string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s (expected)\n+++ %s (got)\n", path, path)

	exp := strings.Split(strings.TrimRight(expected, "\n"), "\n")
	act := strings.Split(strings.TrimRight(got, "\n"), "\n")
	n := len(exp)
	if len(act) > n {
		n = len(act)
	}
	for i := 0; i < n; i++ {
		var e, g string
		if i < len(exp) {
			e = exp[i]
		}
		if i < len(act) {
			g = act[i]
		}
		if e == g {
			continue
		}
		fmt.Fprintf(&buf, "@@ line %d @@\n", i+1)
		if i < len(exp) {
			buf.WriteString("-" + e + "\n")
		}
		if i < len(act) {
			buf.WriteString("+" + g + "\n")
		}
	}
	return buf.String()
}
