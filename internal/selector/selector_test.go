package selector

import (
	"context"
	"testing"
)

func TestExtractLiteral(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
		wantOK bool
	}{
		{"const declaration", `export const selectorInit = ".nav";`, ".nav", true},
		{"single quotes", `var selectorInit='#menu';`, "#menu", true},
		{"object key", `var o={selectorInit:"[data-tabs]"};`, "[data-tabs]", true},
		{"quoted key", `{"selectorInit": ".card"}`, ".card", true},
		{"template literal", "let selectorInit = `.footer`;", ".footer", true},
		{"surrounding space trimmed", `const selectorInit = "  .nav  ";`, ".nav", true},
		{"empty selector", `const selectorInit = "";`, "", false},
		{"absent", `export default function init() {}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractLiteral([]byte(tt.source))
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ExtractLiteral() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestExtractFallsBackToLiteral(t *testing.T) {
	got, ok := Extract(context.Background(), []byte(`const selectorInit = ".nav"; export { selectorInit };`))
	if !ok || got != ".nav" {
		t.Errorf("Extract() = (%q, %v), want (\".nav\", true)", got, ok)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{".nav", "nav"},
		{"#menu", "menu"},
		{"[data-tabs]", "data-tabs"},
		{"section", "section"},
		{"..double", ".double"},
		{" .spaced ", "spaced"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContainedIn(t *testing.T) {
	html := `<div class="card"><span data-tabs></span></div>`

	if !ContainedIn(".card", html) {
		t.Error("class selector should match class attribute text")
	}
	if !ContainedIn("[data-tabs]", html) {
		t.Error("attribute selector should match attribute text")
	}
	if ContainedIn("#menu", html) {
		t.Error("absent id should not match")
	}
	if ContainedIn("[]", html) {
		t.Error("a selector that normalizes to nothing never matches")
	}
}

func TestContainedInIsSubstringMatch(t *testing.T) {
	tests := []struct {
		sel  string
		html string
		want bool
	}{
		{".tab", `<table><tr><td>1</td></tr></table>`, true},
		{"#nav", `<div class="navbar"></div>`, true},
		{".x", `<p>box</p>`, true},
		{".modal", `<div class="dialog"></div>`, false},
		{"[class='x']", `<div class='x'>`, true},
	}

	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			if got := ContainedIn(tt.sel, tt.html); got != tt.want {
				t.Errorf("ContainedIn(%q, %q) = %v, want %v", tt.sel, tt.html, got, tt.want)
			}
		})
	}
}
