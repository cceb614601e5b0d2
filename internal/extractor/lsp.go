package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docground/internal/catalog"
	"docground/internal/lsp"
)

// LSPDump is a captured set of textDocument/documentSymbol responses from a
// code-intelligence server.
type LSPDump struct {
	RootURI   string        `json:"root_uri"`
	Server    string        `json:"server,omitempty"`
	Documents []LSPDocument `json:"documents"`
}

// LSPDocument holds the symbols reported for one document.
type LSPDocument struct {
	URI     string     `json:"uri"`
	Symbols []lspEntry `json:"symbols"`
}

// lspEntry accepts both DocumentSymbol and SymbolInformation shapes.
type lspEntry struct {
	Name           string        `json:"name"`
	Kind           int           `json:"kind"`
	Detail         string        `json:"detail,omitempty"`
	Range          *lsp.Range    `json:"range,omitempty"`
	SelectionRange *lsp.Range    `json:"selectionRange,omitempty"`
	Location       *lsp.Location `json:"location,omitempty"`
	Children       []lspEntry    `json:"children,omitempty"`
}

// LSPExtractor reads document-symbol dumps. Hierarchical children are
// flattened; function-like children of class-like symbols become methods.
type LSPExtractor struct{}

// NewLSPExtractor creates a code-intelligence dump extractor.
func NewLSPExtractor() *LSPExtractor {
	return &LSPExtractor{}
}

func (l *LSPExtractor) Extract(ctx context.Context, path string, src []byte) (catalog.Extraction, error) {
	var ex catalog.Extraction
	var dump LSPDump
	if err := json.Unmarshal(src, &dump); err != nil {
		return ex, fmt.Errorf("failed to decode symbol dump %s: %w", path, err)
	}
	ex.Metadata = map[string]string{"project_root": dump.RootURI}
	if dump.Server != "" {
		ex.Metadata["tool_name"] = dump.Server
	}

	for _, doc := range dump.Documents {
		if err := ctx.Err(); err != nil {
			return catalog.Extraction{}, err
		}
		file := lsp.RelativePath(dump.RootURI, doc.URI)
		for _, e := range doc.Symbols {
			l.walk(e, file, dump.RootURI, false, &ex)
		}
	}
	return ex, nil
}

func (l *LSPExtractor) walk(e lspEntry, file, rootURI string, inClass bool, ex *catalog.Extraction) {
	name := strings.TrimSpace(e.Name)
	kind := lspKind(e.Kind)
	if kind == catalog.KindFunction && inClass {
		kind = catalog.KindMethod
	}

	symFile := file
	var start *lsp.Position
	switch {
	case e.SelectionRange != nil:
		start = &e.SelectionRange.Start
	case e.Range != nil:
		start = &e.Range.Start
	case e.Location != nil:
		start = &e.Location.Range.Start
		if e.Location.URI != "" {
			symFile = lsp.RelativePath(rootURI, e.Location.URI)
		}
	}

	switch {
	case name == "":
		ex.Warn(fmt.Sprintf("%s: symbol without a name", file))
	case start == nil || start.Line < 0:
		ex.Warn(fmt.Sprintf("%s: symbol %q without a position", file, name))
	case isSkippableLSPKind(e.Kind):
	default:
		ex.Symbols = append(ex.Symbols, newSymbol(catalog.SourceCodeIntel, name, kind, symFile, start.Line+1, e.Detail))
	}

	childInClass := inClass || kind == catalog.KindClass
	for _, c := range e.Children {
		l.walk(c, file, rootURI, childInClass, ex)
	}
}

func lspKind(k int) catalog.Kind {
	switch k {
	case lsp.SymbolKindClass, lsp.SymbolKindInterface, lsp.SymbolKindStruct, lsp.SymbolKindEnum:
		return catalog.KindClass
	case lsp.SymbolKindMethod, lsp.SymbolKindConstructor:
		return catalog.KindMethod
	case lsp.SymbolKindFunction:
		return catalog.KindFunction
	case lsp.SymbolKindVariable, lsp.SymbolKindConstant, lsp.SymbolKindField, lsp.SymbolKindProperty, lsp.SymbolKindEnumMember:
		return catalog.KindVariable
	default:
		return catalog.KindUnknown
	}
}

// Files, modules and packages describe containers, not claimable symbols.
func isSkippableLSPKind(k int) bool {
	switch k {
	case lsp.SymbolKindFile, lsp.SymbolKindModule, lsp.SymbolKindNamespace, lsp.SymbolKindPackage:
		return true
	}
	return false
}
