package catalog

import (
	"context"
	"strings"
)

// Kind classifies a catalogued symbol.
type Kind string

const (
	KindClass    Kind = "class"
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
	KindVariable Kind = "variable"
	KindUnknown  Kind = "unknown"
)

// ParseKind maps the kind labels used by the different catalog formats onto Kind.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "class", "struct", "interface", "type", "enum", "trait":
		return KindClass
	case "function", "func", "def":
		return KindFunction
	case "method", "constructor":
		return KindMethod
	case "variable", "var", "const", "constant", "field", "property", "attribute":
		return KindVariable
	default:
		return KindUnknown
	}
}

// Source identifies the extraction pipeline a symbol came from.
type Source string

const (
	SourceMarkdown      Source = "markdown-catalog"
	SourceAST           Source = "ast"
	SourceSyntaxTree    Source = "syntax-tree"
	SourceCompiledIndex Source = "compiled-index"
	SourceCodeIntel     Source = "code-intelligence-server"
)

// KnownSources lists every source in its canonical order.
var KnownSources = []Source{
	SourceMarkdown,
	SourceAST,
	SourceSyntaxTree,
	SourceCompiledIndex,
	SourceCodeIntel,
}

// IsKnown reports whether s is one of the built-in sources.
func (s Source) IsKnown() bool {
	for _, k := range KnownSources {
		if s == k {
			return true
		}
	}
	return false
}

// PathBound reports whether symbols of s take their file path from the
// descriptor rather than from the content. Identical content at two paths is
// then two distinct catalogs.
func (s Source) PathBound() bool {
	return s == SourceAST || s == SourceSyntaxTree
}

// Symbol is a named, locatable artifact. Symbols are values and are never
// modified after they enter a catalog snapshot.
type Symbol struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Kind          Kind   `json:"kind"`
	FilePath      string `json:"file_path"`
	Line          int    `json:"line"`
	Documentation string `json:"documentation,omitempty"`
	Source        Source `json:"source"`
}

// Key returns the normalized lookup key of the symbol.
func (s Symbol) Key() string {
	return Normalize(s.Name)
}

// Descriptor names one catalog input: a markdown catalog, a single source
// file, a compiled index or a code-intelligence dump.
type Descriptor struct {
	// ID is the descriptor identity. Defaults to Path.
	ID     string `json:"id" yaml:"id"`
	Source Source `json:"source" yaml:"source"`
	Path   string `json:"path" yaml:"path"`
	// Root, when set, makes file paths of single-file sources corpus-relative.
	Root string `json:"root,omitempty" yaml:"root"`
	// Data, when non-nil, is used instead of reading Path.
	Data []byte `json:"-" yaml:"-"`
}

// Identity is the dedupe key of the descriptor.
func (d Descriptor) Identity() string {
	id := d.ID
	if id == "" {
		id = d.Path
	}
	return string(d.Source) + ":" + id
}

// Extraction is what an extractor produces for one input.
type Extraction struct {
	Symbols        []Symbol
	Warnings       int
	WarningDetails []string
	Metadata       map[string]string
}

// Warn records a skipped line or node.
func (e *Extraction) Warn(detail string) {
	e.Warnings++
	if len(e.WarningDetails) < maxWarningDetails {
		e.WarningDetails = append(e.WarningDetails, detail)
	}
}

const maxWarningDetails = 32

// Extractor turns raw input into symbols. Implementations must be pure
// functions of their input so they can run concurrently.
type Extractor interface {
	Extract(ctx context.Context, path string, src []byte) (Extraction, error)
}

// ExtractorResolver returns the extractor responsible for a source.
type ExtractorResolver interface {
	ExtractorFor(source Source) (Extractor, bool)
}

// SymbolCache stores extracted symbols keyed by source, path and input
// content hash. path is empty for sources that are not path bound.
type SymbolCache interface {
	CachedSymbols(ctx context.Context, source Source, path, contentHash string) ([]Symbol, bool, error)
	CacheSymbols(ctx context.Context, source Source, path, contentHash string, symbols []Symbol) error
}

// StripMarkers trims whitespace and surrounding backtick or quote markers.
func StripMarkers(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first != last || !isMarker(first) {
			break
		}
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return strings.TrimSpace(strings.Trim(s, "`"))
}

// Normalize produces the catalog key for a name or claim.
func Normalize(s string) string {
	return strings.ToLower(StripMarkers(s))
}

func isMarker(b byte) bool {
	return b == '`' || b == '\'' || b == '"'
}
