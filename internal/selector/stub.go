//go:build !cgo

package selector

import "context"

// IsTreeAvailable reports whether syntax-tree extraction is compiled in.
// Returns false when CGO is disabled; Extract then relies on the literal scan.
func IsTreeAvailable() bool {
	return false
}

func extractFromTree(ctx context.Context, source []byte) (string, bool) {
	return "", false
}
