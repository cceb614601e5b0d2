package extractor

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"docground/internal/catalog"
)

// ASTExtractor walks a single Go source file with go/ast and emits one symbol
// per type, function and method definition.
type ASTExtractor struct {
	// IncludeUnexported keeps lower-case identifiers. Defaults to true.
	IncludeUnexported bool
}

// NewASTExtractor creates a Go AST extractor.
func NewASTExtractor() *ASTExtractor {
	return &ASTExtractor{IncludeUnexported: true}
}

func (a *ASTExtractor) Extract(ctx context.Context, path string, src []byte) (catalog.Extraction, error) {
	var ex catalog.Extraction
	if !hasAnySuffix(path, ".go") {
		return ex, nil
	}
	if err := ctx.Err(); err != nil {
		return ex, err
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if file == nil || file.Name == nil || file.Name.Name == "" {
		// No package clause: nothing usable was parsed.
		return ex, fmt.Errorf("failed to parse file %s: %w", path, err)
	}
	if err != nil {
		// go/parser returns a partial tree alongside syntax errors.
		ex.Warn(fmt.Sprintf("%s: syntax errors: %v", path, err))
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Name == nil || !a.keep(d.Name.Name) {
				continue
			}
			kind := catalog.KindFunction
			if d.Recv != nil && len(d.Recv.List) > 0 {
				kind = catalog.KindMethod
			}
			line := fset.Position(d.Pos()).Line
			ex.Symbols = append(ex.Symbols, newSymbol(catalog.SourceAST, d.Name.Name, kind, path, line, d.Doc.Text()))

		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok || !a.keep(ts.Name.Name) {
					continue
				}
				doc := ts.Doc.Text()
				pos := ts.Pos()
				if len(d.Specs) == 1 {
					pos = d.Pos()
					if doc == "" {
						doc = d.Doc.Text()
					}
				}
				line := fset.Position(pos).Line
				ex.Symbols = append(ex.Symbols, newSymbol(catalog.SourceAST, ts.Name.Name, catalog.KindClass, path, line, doc))
			}
		}
	}
	return ex, nil
}

func (a *ASTExtractor) keep(name string) bool {
	if name == "_" || strings.TrimSpace(name) == "" {
		return false
	}
	return a.IncludeUnexported || ast.IsExported(name)
}
