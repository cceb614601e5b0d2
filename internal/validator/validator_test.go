package validator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docground/internal/catalog"
	"docground/internal/extractor"
)

const calculatorSource = `package calc

// Calculator adds numbers.
type Calculator struct{}

func (c *Calculator) Add(n int) int { return n }
`

const markdownCatalog = "### `calc/calculator.go`\n" +
	"- Line 4: `Calculator` (class)\n" +
	"\n" +
	"### `backend/converter.py`\n" +
	"- Line 42: `DocumentConverter` (class)\n" +
	"- Line 57: `convert` (method)\n" +
	"\n" +
	"### `backend/legacy/old_converter.py`\n" +
	"- Line 10: `documentconverter` (class)\n" +
	"\n" +
	"### `backend/x.py`\n" +
	"- Line 3: `DocumentConverter` (function)\n"

func loadStore(t *testing.T, ds ...catalog.Descriptor) *catalog.Store {
	t.Helper()
	s := catalog.NewStore(extractor.DefaultRegistry())
	for _, d := range ds {
		_, err := s.Load(context.Background(), d)
		require.NoError(t, err)
	}
	return s
}

func markdownDesc() catalog.Descriptor {
	return catalog.Descriptor{Source: catalog.SourceMarkdown, ID: "catalog.md", Data: []byte(markdownCatalog)}
}

func astDesc() catalog.Descriptor {
	return catalog.Descriptor{Source: catalog.SourceAST, Path: "calc/calculator.go", Data: []byte(calculatorSource)}
}

func TestValidate_NotFound(t *testing.T) {
	snap := loadStore(t, markdownDesc()).Snapshot()
	v := New()

	for _, claim := range []string{"FakeSymbol", "Calc", "DocumentConverterX"} {
		res := v.Validate(snap, Claim{Text: claim}, 0)
		assert.False(t, res.Validated, claim)
		assert.Zero(t, res.Confidence, claim)
		assert.Empty(t, res.MatchedSymbols, claim)
		assert.Equal(t, ReasonNotFound, res.Reason, claim)
		assert.Equal(t, 1, res.SourcesConsulted, claim)
	}
}

func TestValidate_SingleSource(t *testing.T) {
	snap := loadStore(t, markdownDesc()).Snapshot()

	t.Run("Default weight", func(t *testing.T) {
		res := New().Validate(snap, Claim{Text: "`DocumentConverter`"}, 0)
		require.True(t, res.Validated)
		assert.Equal(t, DefaultTrustWeight, res.Confidence)
		assert.Equal(t, 1, res.SourcesAgreeing)
		assert.Equal(t, ReasonVerified, res.Reason)
		assert.Equal(t, catalog.SourceMarkdown, res.WinningSource)
	})

	t.Run("Capped", func(t *testing.T) {
		v := New(WithWeights(Weights{catalog.SourceMarkdown: 1.0}))
		res := v.Validate(snap, Claim{Text: "DocumentConverter"}, 0)
		assert.Equal(t, SingleSourceCap, res.Confidence)
		assert.Less(t, res.Confidence, 1.0)
	})

	t.Run("Tie-break", func(t *testing.T) {
		res := New().Validate(snap, Claim{Text: "DocumentConverter"}, 0)
		require.Len(t, res.MatchedSymbols, 3)
		// Exact case first, then the shorter path.
		assert.Equal(t, "backend/x.py", res.MatchedSymbols[0].FilePath)
		assert.Equal(t, "backend/converter.py", res.MatchedSymbols[1].FilePath)
		assert.Equal(t, "documentconverter", res.MatchedSymbols[2].Name)
	})

	t.Run("Max results", func(t *testing.T) {
		res := New().Validate(snap, Claim{Text: "DocumentConverter"}, 1)
		assert.Len(t, res.MatchedSymbols, 1)
	})
}

func TestValidate_Corroborated(t *testing.T) {
	snap := loadStore(t, markdownDesc(), astDesc()).Snapshot()
	v := New()

	res := v.Validate(snap, Claim{Text: "Calculator"}, 0)
	require.True(t, res.Validated)
	assert.Equal(t, 2, res.SourcesAgreeing)
	assert.Equal(t, 2, res.SourcesConsulted)
	assert.Equal(t, ReasonCorroborated, res.Reason)
	assert.Greater(t, res.Confidence, SingleSourceCap)
	assert.LessOrEqual(t, res.Confidence, 1.0)

	single := v.Validate(loadStore(t, astDesc()).Snapshot(), Claim{Text: "Calculator"}, 0)
	assert.Greater(t, res.Confidence, single.Confidence)

	t.Run("Low weights still exceed the cap", func(t *testing.T) {
		low := New(WithWeights(Weights{catalog.SourceMarkdown: 0.1, catalog.SourceAST: 0.2}))
		res := low.Validate(snap, Claim{Text: "Calculator"}, 0)
		assert.Greater(t, res.Confidence, SingleSourceCap)
		assert.Equal(t, catalog.SourceAST, res.WinningSource)
	})
}

func TestValidate_ExpectedKind(t *testing.T) {
	snap := loadStore(t, markdownDesc()).Snapshot()
	v := New()

	res := v.Validate(snap, Claim{Text: "DocumentConverter", ExpectedKind: catalog.KindFunction}, 0)
	require.True(t, res.Validated)
	require.Len(t, res.MatchedSymbols, 1)
	assert.Equal(t, "backend/x.py", res.MatchedSymbols[0].FilePath)

	res = v.Validate(snap, Claim{Text: "convert", ExpectedKind: catalog.KindClass}, 0)
	assert.False(t, res.Validated)
	assert.Equal(t, ReasonKindMismatch, res.Reason)
	assert.Zero(t, res.Confidence)
}

func TestValidate_Malformed(t *testing.T) {
	snap := loadStore(t, markdownDesc()).Snapshot()
	v := New()

	for _, text := range []string{"", "``", "Document\nConverter", strings.Repeat("a", MaxClaimLength+1)} {
		res := v.Validate(snap, Claim{Text: text}, 0)
		assert.False(t, res.Validated)
		assert.Equal(t, ReasonMalformed, res.Reason)
		assert.Zero(t, res.Confidence)
	}
}

func TestValidate_EmptySnapshot(t *testing.T) {
	res := New().Validate(catalog.NewStore(extractor.DefaultRegistry()).Snapshot(), Claim{Text: "Foo"}, 0)
	assert.False(t, res.Validated)
	assert.Zero(t, res.SourcesConsulted)
}

func TestValidate_Fuzzy(t *testing.T) {
	snap := loadStore(t, markdownDesc()).Snapshot()

	t.Run("Off by default", func(t *testing.T) {
		res := New().Validate(snap, Claim{Text: "DocumentConverters"}, 0)
		assert.False(t, res.Validated)
	})

	t.Run("Substring containment", func(t *testing.T) {
		res := New(WithFuzzy(4)).Validate(snap, Claim{Text: "document_converter"}, 0)
		require.True(t, res.Validated)
		assert.True(t, res.Fuzzy)
		assert.Equal(t, ReasonFuzzy, res.Reason)
		assert.InDelta(t, DefaultTrustWeight*0.5, res.Confidence, 1e-9)
		assert.Less(t, res.Confidence, DefaultTrustWeight)
	})

	t.Run("Short keys are not matched", func(t *testing.T) {
		res := New(WithFuzzy(4)).Validate(snap, Claim{Text: "Doc"}, 0)
		assert.False(t, res.Validated)
		assert.False(t, res.Fuzzy)
	})

	t.Run("Kind mismatch", func(t *testing.T) {
		res := New(WithFuzzy(4)).Validate(snap, Claim{Text: "document_converter", ExpectedKind: catalog.KindVariable}, 0)
		assert.False(t, res.Validated)
		assert.False(t, res.Fuzzy)
		assert.Equal(t, ReasonKindMismatch, res.Reason)
		assert.Empty(t, res.MatchedSymbols)
	})

	t.Run("Kind filter keeps matching occurrences", func(t *testing.T) {
		res := New(WithFuzzy(4)).Validate(snap, Claim{Text: "document_converter", ExpectedKind: catalog.KindFunction}, 0)
		require.True(t, res.Validated)
		assert.True(t, res.Fuzzy)
		for _, sym := range res.MatchedSymbols {
			assert.Equal(t, catalog.KindFunction, sym.Kind)
		}
	})

	t.Run("Minimum length counts characters", func(t *testing.T) {
		cjk := loadStore(t, catalog.Descriptor{
			Source: catalog.SourceMarkdown,
			ID:     "cjk.md",
			Data:   []byte("### `conv/henkan.py`\n- Line 1: `変換器` (class)\n"),
		}).Snapshot()
		// Two characters, six bytes.
		res := New(WithFuzzy(4)).Validate(cjk, Claim{Text: "変換"}, 0)
		assert.False(t, res.Validated)

		res = New(WithFuzzy(2)).Validate(cjk, Claim{Text: "変換"}, 0)
		assert.True(t, res.Validated)
		assert.True(t, res.Fuzzy)
	})

	t.Run("Exact match wins", func(t *testing.T) {
		res := New(WithFuzzy(4)).Validate(snap, Claim{Text: "convert"}, 0)
		assert.False(t, res.Fuzzy)
		assert.Equal(t, DefaultTrustWeight, res.Confidence)
	})
}

func TestWeights(t *testing.T) {
	w := Weights{catalog.SourceAST: 0.5, catalog.SourceMarkdown: 3}
	assert.Equal(t, 0.5, w.Weight(catalog.SourceAST))
	assert.Equal(t, DefaultTrustWeight, w.Weight(catalog.SourceMarkdown))
	assert.Equal(t, DefaultTrustWeight, w.Weight(catalog.SourceCodeIntel))
}
