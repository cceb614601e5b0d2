package extractor

import (
	"context"
	"fmt"
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"docground/internal/catalog"
)

// TreeSitterExtractor is the language-agnostic extractor. It picks a grammar
// from the file extension; unsupported extensions yield no symbols.
type TreeSitterExtractor struct{}

// NewTreeSitterExtractor creates a syntax-tree extractor.
func NewTreeSitterExtractor() *TreeSitterExtractor {
	return &TreeSitterExtractor{}
}

func (t *TreeSitterExtractor) Extract(ctx context.Context, path string, src []byte) (catalog.Extraction, error) {
	var ex catalog.Extraction
	spec, ok := languageFor(path)
	if !ok {
		return ex, nil
	}

	// A parser per call keeps the extractor safe for concurrent use.
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(spec.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return ex, fmt.Errorf("failed to parse file %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		ex.Warn(fmt.Sprintf("%s: source contains syntax errors", path))
	}

	query, err := sitter.NewQuery([]byte(spec.GetQuery()), spec.GetLanguage())
	if err != nil {
		return ex, fmt.Errorf("failed to create query: %w", err)
	}
	defer query.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, root)

	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			sym, ok := t.symbolFor(spec, query.CaptureNameForId(c.Index), c.Node, src, path)
			if ok {
				ex.Symbols = append(ex.Symbols, sym)
			}
		}
	}
	return ex, nil
}

func (t *TreeSitterExtractor) symbolFor(spec LanguageSpec, capture string, nameNode *sitter.Node, src []byte, path string) (catalog.Symbol, bool) {
	name := strings.TrimSpace(nameNode.Content(src))
	def := nameNode.Parent()
	if name == "" || def == nil {
		return catalog.Symbol{}, false
	}

	kind := catalog.ParseKind(capture)
	if kind == catalog.KindFunction && insideClass(def, spec.ClassScopes()) {
		kind = catalog.KindMethod
	}

	line := int(def.StartPoint().Row) + 1
	return newSymbol(catalog.SourceSyntaxTree, name, kind, path, line, docFor(def, src)), true
}

// insideClass reports whether a definition is nested in one of the scope node types.
func insideClass(def *sitter.Node, scopes []string) bool {
	if len(scopes) == 0 {
		return false
	}
	for p := def.Parent(); p != nil; p = p.Parent() {
		if slices.Contains(scopes, p.Type()) {
			return true
		}
	}
	return false
}

// docFor returns a Python style docstring or the comment directly above a definition.
func docFor(def *sitter.Node, src []byte) string {
	if body := def.ChildByFieldName("body"); body != nil && body.NamedChildCount() > 0 {
		first := body.NamedChild(0)
		if first.Type() == "expression_statement" && first.NamedChildCount() > 0 && first.NamedChild(0).Type() == "string" {
			return strings.Trim(first.NamedChild(0).Content(src), "\"' \n\t")
		}
	}

	target := def
	// Go type specs hang off a type_declaration that owns the comment.
	if p := def.Parent(); p != nil && p.Type() == "type_declaration" {
		target = p
	}
	var lines []string
	for prev := target.PrevNamedSibling(); prev != nil && prev.Type() == "comment"; prev = prev.PrevNamedSibling() {
		if int(prev.EndPoint().Row)+1+len(lines) < int(target.StartPoint().Row) {
			break
		}
		lines = append([]string{cleanComment(prev.Content(src))}, lines...)
	}
	return strings.Join(lines, "\n")
}

func cleanComment(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"//", "#", "/**", "/*"} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	s = strings.TrimSuffix(s, "*/")
	return strings.TrimSpace(s)
}
