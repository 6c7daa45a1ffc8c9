// Package selector finds the binding selector a lazily-loaded module declares
// and normalizes selectors for textual matching against injected markup.
package selector

import (
	"context"
	"regexp"
	"strings"
)

// BindingName is the reserved identifier a module uses to declare the
// selector of the element(s) it manages.
const BindingName = "selectorInit"

// literalPattern matches `selectorInit = "..."`, `selectorInit: '...'` and the
// quoted-key form `"selectorInit": "..."` in plain or minified output.
var literalPattern = regexp.MustCompile(BindingName + `["']?\s*[:=]\s*(["'` + "`" + `])([^"'` + "`" + `]*)["'` + "`" + `]`)

// Extract returns the binding selector declared in compiled module source.
// The syntax tree is consulted first when available so that minified
// `export { o as selectorInit }` forms resolve; the literal scan is the
// fallback. The result is trimmed; an empty selector counts as absent.
func Extract(ctx context.Context, source []byte) (string, bool) {
	if sel, ok := extractFromTree(ctx, source); ok {
		return sel, true
	}
	return ExtractLiteral(source)
}

// ExtractLiteral scans source text for the reserved binding literal.
func ExtractLiteral(source []byte) (string, bool) {
	m := literalPattern.FindSubmatch(source)
	if m == nil {
		return "", false
	}
	sel := strings.TrimSpace(string(m[2]))
	return sel, sel != ""
}

// Normalize strips attribute brackets and a leading class or id sigil so a
// selector can be looked up as plain text in injected markup: ".x" becomes
// "x" and "[data-x]" becomes "data-x".
func Normalize(sel string) string {
	s := strings.NewReplacer("[", "", "]", "").Replace(strings.TrimSpace(sel))
	if strings.HasPrefix(s, ".") || strings.HasPrefix(s, "#") {
		s = s[1:]
	}
	return s
}

// ContainedIn reports whether the normalized selector occurs in html.
// Matching is plain substring search with no tokenization, so it errs toward
// loading: ".tab" matches "<table>" and "#nav" matches "navbar" anywhere in
// the markup, text content included.
func ContainedIn(sel, html string) bool {
	n := Normalize(sel)
	return n != "" && strings.Contains(html, n)
}

func unquote(lit string) (string, bool) {
	if len(lit) < 2 {
		return "", false
	}
	first, last := lit[0], lit[len(lit)-1]
	if first != last || (first != '"' && first != '\'' && first != '`') {
		return "", false
	}
	s := strings.TrimSpace(lit[1 : len(lit)-1])
	return s, s != ""
}
