//go:build cgo

package selector

import (
	"context"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// sitter parsers are not safe for concurrent use; analysis runs in parallel.
var parserPool = sync.Pool{
	New: func() any {
		p := sitter.NewParser()
		p.SetLanguage(javascript.GetLanguage())
		return p
	},
}

// IsTreeAvailable reports whether syntax-tree extraction is compiled in.
func IsTreeAvailable() bool {
	return true
}

func extractFromTree(ctx context.Context, source []byte) (string, bool) {
	p := parserPool.Get().(*sitter.Parser)
	defer parserPool.Put(p)

	tree, err := p.ParseCtx(ctx, nil, source)
	if err != nil || tree == nil {
		return "", false
	}
	return findBinding(tree.RootNode(), source)
}

// findBinding walks the tree once, remembering string-valued declarators so
// that an export alias can be resolved back to its literal.
func findBinding(root *sitter.Node, source []byte) (string, bool) {
	literals := make(map[string]string)
	var aliased []string

	text := func(n *sitter.Node) string {
		return string(source[n.StartByte():n.EndByte()])
	}
	stringValue := func(n *sitter.Node) (string, bool) {
		if n == nil {
			return "", false
		}
		switch n.Type() {
		case "string":
			return unquote(text(n))
		case "template_string":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				if n.NamedChild(i).Type() == "template_substitution" {
					return "", false
				}
			}
			return unquote(text(n))
		}
		return "", false
	}

	var found string
	var walk func(*sitter.Node) bool
	walk = func(n *sitter.Node) bool {
		if n == nil {
			return false
		}
		switch n.Type() {
		case "variable_declarator":
			name := n.ChildByFieldName("name")
			if name != nil && name.Type() == "identifier" {
				if v, ok := stringValue(n.ChildByFieldName("value")); ok {
					if text(name) == BindingName {
						found = v
						return true
					}
					literals[text(name)] = v
				}
			}
		case "pair":
			if key := n.ChildByFieldName("key"); key != nil {
				k := text(key)
				if s, ok := unquote(k); ok {
					k = s
				}
				if k == BindingName {
					if v, ok := stringValue(n.ChildByFieldName("value")); ok {
						found = v
						return true
					}
				}
			}
		case "assignment_expression":
			left := n.ChildByFieldName("left")
			if left != nil {
				name := left
				if left.Type() == "member_expression" {
					name = left.ChildByFieldName("property")
				}
				if name != nil && text(name) == BindingName {
					if v, ok := stringValue(n.ChildByFieldName("right")); ok {
						found = v
						return true
					}
				}
			}
		case "export_specifier":
			local := n.ChildByFieldName("name")
			alias := n.ChildByFieldName("alias")
			if local != nil && alias != nil && text(alias) == BindingName {
				aliased = append(aliased, text(local))
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if walk(n.Child(i)) {
				return true
			}
		}
		return false
	}

	if walk(root) {
		return found, true
	}
	for _, local := range aliased {
		if v, ok := literals[local]; ok {
			return v, true
		}
	}
	return "", false
}
