package extractor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docground/internal/catalog"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return b
}

func byName(syms []catalog.Symbol) map[string]catalog.Symbol {
	out := make(map[string]catalog.Symbol, len(syms))
	for _, s := range syms {
		out[s.Name] = s
	}
	return out
}

func TestMarkdownExtractor_Extract(t *testing.T) {
	ex, err := NewMarkdownExtractor().Extract(context.Background(), "catalog.md", readFixture(t, "catalog.md"))
	require.NoError(t, err)

	t.Run("Symbols", func(t *testing.T) {
		require.Len(t, ex.Symbols, 3)
		syms := byName(ex.Symbols)

		dc := syms["DocumentConverter"]
		assert.Equal(t, "backend/converter.py", dc.FilePath)
		assert.Equal(t, 42, dc.Line)
		assert.Equal(t, catalog.KindClass, dc.Kind)
		assert.Equal(t, catalog.SourceMarkdown, dc.Source)
		assert.NotEmpty(t, dc.ID)

		assert.Equal(t, catalog.KindMethod, syms["convert"].Kind)
		assert.Equal(t, "calc/calculator.go", syms["Calculator"].FilePath)
	})

	t.Run("Warnings", func(t *testing.T) {
		// Line zero, prose bullet, Line 0, malformed heading, orphan bullet.
		assert.Equal(t, 5, ex.Warnings)
		assert.Len(t, ex.WarningDetails, 5)
	})

	t.Run("Insertion order", func(t *testing.T) {
		assert.Equal(t, "DocumentConverter", ex.Symbols[0].Name)
		assert.Equal(t, "convert", ex.Symbols[1].Name)
		assert.Equal(t, "Calculator", ex.Symbols[2].Name)
	})
}

func TestMarkdownExtractor_EmptyInput(t *testing.T) {
	ex, err := NewMarkdownExtractor().Extract(context.Background(), "empty.md", nil)
	require.NoError(t, err)
	assert.Empty(t, ex.Symbols)
	assert.Zero(t, ex.Warnings)
}

func TestASTExtractor_Extract(t *testing.T) {
	ex, err := NewASTExtractor().Extract(context.Background(), "calc/calculator.go", readFixture(t, "calculator.go"))
	require.NoError(t, err)
	require.Len(t, ex.Symbols, 3)
	syms := byName(ex.Symbols)

	t.Run("Type", func(t *testing.T) {
		c := syms["Calculator"]
		assert.Equal(t, catalog.KindClass, c.Kind)
		assert.Equal(t, 4, c.Line)
		assert.Equal(t, "calc/calculator.go", c.FilePath)
		assert.Equal(t, "Calculator adds numbers.", c.Documentation)
	})

	t.Run("Method", func(t *testing.T) {
		assert.Equal(t, catalog.KindMethod, syms["Add"].Kind)
		assert.Equal(t, 9, syms["Add"].Line)
	})

	t.Run("Function", func(t *testing.T) {
		assert.Equal(t, catalog.KindFunction, syms["New"].Kind)
		assert.Equal(t, 15, syms["New"].Line)
	})
}

func TestASTExtractor_NonGoFile(t *testing.T) {
	ex, err := NewASTExtractor().Extract(context.Background(), "converter.py", readFixture(t, "converter.py"))
	require.NoError(t, err)
	assert.Empty(t, ex.Symbols)
}

func TestASTExtractor_Unparseable(t *testing.T) {
	_, err := NewASTExtractor().Extract(context.Background(), "broken.go", []byte("this is not go"))
	assert.Error(t, err)
}

func TestTreeSitterExtractor_Python(t *testing.T) {
	ex, err := NewTreeSitterExtractor().Extract(context.Background(), "backend/converter.py", readFixture(t, "converter.py"))
	require.NoError(t, err)
	syms := byName(ex.Symbols)
	require.Len(t, syms, 3)

	dc := syms["DocumentConverter"]
	assert.Equal(t, catalog.KindClass, dc.Kind)
	assert.Equal(t, 4, dc.Line)
	assert.Equal(t, "Converts documents.", dc.Documentation)

	assert.Equal(t, catalog.KindMethod, syms["convert"].Kind)
	assert.Equal(t, 7, syms["convert"].Line)

	assert.Equal(t, catalog.KindFunction, syms["load_backend"].Kind)
	assert.Equal(t, 12, syms["load_backend"].Line)
}

func TestTreeSitterExtractor_Go(t *testing.T) {
	ex, err := NewTreeSitterExtractor().Extract(context.Background(), "calc/calculator.go", readFixture(t, "calculator.go"))
	require.NoError(t, err)
	syms := byName(ex.Symbols)
	require.Len(t, syms, 3)

	assert.Equal(t, catalog.KindClass, syms["Calculator"].Kind)
	assert.Equal(t, 4, syms["Calculator"].Line)
	assert.Equal(t, "Calculator adds numbers.", syms["Calculator"].Documentation)
	assert.Equal(t, catalog.KindMethod, syms["Add"].Kind)
	assert.Equal(t, catalog.KindFunction, syms["New"].Kind)
}

func TestTreeSitterExtractor_JavaScript(t *testing.T) {
	ex, err := NewTreeSitterExtractor().Extract(context.Background(), "web/widgets.js", readFixture(t, "widgets.js"))
	require.NoError(t, err)
	syms := byName(ex.Symbols)

	assert.Equal(t, catalog.KindClass, syms["Widget"].Kind)
	assert.Equal(t, 2, syms["Widget"].Line)
	assert.Equal(t, catalog.KindMethod, syms["render"].Kind)
	assert.Equal(t, catalog.KindFunction, syms["makeWidget"].Kind)
	assert.Equal(t, 8, syms["makeWidget"].Line)
}

func TestTreeSitterExtractor_UnsupportedExtension(t *testing.T) {
	ex, err := NewTreeSitterExtractor().Extract(context.Background(), "script.rb", []byte("class Foo; end"))
	require.NoError(t, err)
	assert.Empty(t, ex.Symbols)
	assert.Zero(t, ex.Warnings)
}

func TestLSPExtractor_Extract(t *testing.T) {
	ex, err := NewLSPExtractor().Extract(context.Background(), "symbols.lsp.json", readFixture(t, "symbols.lsp.json"))
	require.NoError(t, err)
	syms := byName(ex.Symbols)
	require.Len(t, syms, 3)

	dc := syms["DocumentConverter"]
	assert.Equal(t, "backend/converter.py", dc.FilePath)
	assert.Equal(t, 42, dc.Line)
	assert.Equal(t, catalog.KindClass, dc.Kind)
	assert.Equal(t, "class DocumentConverter", dc.Documentation)

	assert.Equal(t, catalog.KindMethod, syms["convert"].Kind)
	assert.Equal(t, 57, syms["convert"].Line)

	assert.Equal(t, "b.py", syms["helper"].FilePath)
	assert.Equal(t, 3, syms["helper"].Line)

	assert.Equal(t, 1, ex.Warnings, "the unnamed symbol is skipped")
	assert.Equal(t, "pyright", ex.Metadata["tool_name"])
}

func TestLSPExtractor_InvalidJSON(t *testing.T) {
	_, err := NewLSPExtractor().Extract(context.Background(), "bad.json", []byte("{"))
	assert.Error(t, err)
}

func TestRegistry_SourceFor(t *testing.T) {
	cases := map[string]catalog.Source{
		"docs/catalog.md":      catalog.SourceMarkdown,
		"index.scip":           catalog.SourceCompiledIndex,
		"dump.lsp.json":        catalog.SourceCodeIntel,
		"main.go":              catalog.SourceAST,
		"backend/converter.py": catalog.SourceSyntaxTree,
	}
	for name, want := range cases {
		got, err := SourceFor(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := SourceFor("README")
	assert.ErrorIs(t, err, catalog.ErrUnknownSource)
}

func TestDefaultRegistry_CoversKnownSources(t *testing.T) {
	r := DefaultRegistry()
	for _, src := range catalog.KnownSources {
		_, ok := r.ExtractorFor(src)
		assert.True(t, ok, src)
	}
}

func TestBuildStableSymbolID(t *testing.T) {
	a := BuildStableSymbolID(catalog.SourceAST, "calc/calculator.go", catalog.KindClass, "Calculator", 4)
	b := BuildStableSymbolID(catalog.SourceAST, "calc/calculator.go", catalog.KindClass, "Calculator", 4)
	c := BuildStableSymbolID(catalog.SourceAST, "calc/calculator.go", catalog.KindClass, "Calculator", 5)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "ast/class:Calculator:")
}
