package extractor

import (
	"fmt"

	"docground/internal/catalog"
)

// Registry maps each catalog source to the extractor that understands it.
type Registry struct {
	extractors map[catalog.Source]catalog.Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[catalog.Source]catalog.Extractor)}
}

// DefaultRegistry wires the built-in extractor for every known source.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(catalog.SourceMarkdown, NewMarkdownExtractor())
	r.Register(catalog.SourceAST, NewASTExtractor())
	r.Register(catalog.SourceSyntaxTree, NewTreeSitterExtractor())
	r.Register(catalog.SourceCompiledIndex, NewSCIPExtractor())
	r.Register(catalog.SourceCodeIntel, NewLSPExtractor())
	return r
}

// Register installs ext for source, replacing any previous one.
func (r *Registry) Register(source catalog.Source, ext catalog.Extractor) {
	r.extractors[source] = ext
}

// ExtractorFor implements catalog.ExtractorResolver.
func (r *Registry) ExtractorFor(source catalog.Source) (catalog.Extractor, bool) {
	ext, ok := r.extractors[source]
	return ext, ok
}

// SourceFor picks the default single-file source for a file name, used when a
// descriptor is given without an explicit source.
func SourceFor(filename string) (catalog.Source, error) {
	switch {
	case hasAnySuffix(filename, ".md", ".markdown"):
		return catalog.SourceMarkdown, nil
	case hasAnySuffix(filename, ".scip"):
		return catalog.SourceCompiledIndex, nil
	case hasAnySuffix(filename, ".lsp.json"):
		return catalog.SourceCodeIntel, nil
	case hasAnySuffix(filename, ".go"):
		return catalog.SourceAST, nil
	}
	if _, ok := languageFor(filename); ok {
		return catalog.SourceSyntaxTree, nil
	}
	return "", fmt.Errorf("%w: cannot infer source for %s", catalog.ErrUnknownSource, filename)
}
