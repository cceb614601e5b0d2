package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"docground/internal/catalog"
	"docground/internal/ddr"
	"docground/internal/extractor"
	"docground/internal/gate"
	"docground/internal/validator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SymbolCache(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, hit, err := store.CachedSymbols(ctx, catalog.SourceAST, "calc/calculator.go", "abc")
	require.NoError(t, err)
	assert.False(t, hit)

	syms := []catalog.Symbol{
		{ID: "1", Name: "Calculator", Kind: catalog.KindClass, FilePath: "calc/calculator.go", Line: 4, Documentation: "Calculator adds numbers.", Source: catalog.SourceAST},
		{ID: "2", Name: "Add", Kind: catalog.KindMethod, FilePath: "calc/calculator.go", Line: 9, Source: catalog.SourceAST},
	}
	require.NoError(t, store.CacheSymbols(ctx, catalog.SourceAST, "calc/calculator.go", "abc", syms))

	got, hit, err := store.CachedSymbols(ctx, catalog.SourceAST, "calc/calculator.go", "abc")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, syms, got)

	// Same hash at another path is a different entry.
	_, hit, err = store.CachedSymbols(ctx, catalog.SourceAST, "calc/moved.go", "abc")
	require.NoError(t, err)
	assert.False(t, hit)

	// Same hash under another source is a different entry.
	_, hit, err = store.CachedSymbols(ctx, catalog.SourceMarkdown, "calc/calculator.go", "abc")
	require.NoError(t, err)
	assert.False(t, hit)

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.CacheSymbols(ctx, catalog.SourceAST, "calc/calculator.go", "abc", syms[:1]))
		got, hit, err := store.CachedSymbols(ctx, catalog.SourceAST, "calc/calculator.go", "abc")
		require.NoError(t, err)
		require.True(t, hit)
		assert.Len(t, got, 1)
	})

	sets, err := store.CachedSets(ctx)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, catalog.SourceAST, sets[0].Source)
	assert.Equal(t, "calc/calculator.go", sets[0].Path)
	assert.Equal(t, 1, sets[0].Symbols)
}

func TestSQLiteStore_CacheFollowsRenames(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	body := []byte("package util\n\nfunc Helper() {}\n")

	first := catalog.NewStore(extractor.DefaultRegistry(), catalog.WithSymbolCache(db))
	_, err := first.Load(ctx, catalog.Descriptor{Source: catalog.SourceAST, Path: "old/util.go", Data: body})
	require.NoError(t, err)

	second := catalog.NewStore(extractor.DefaultRegistry(), catalog.WithSymbolCache(db))
	res, err := second.Load(ctx, catalog.Descriptor{Source: catalog.SourceAST, Path: "new/util.go", Data: body})
	require.NoError(t, err)
	assert.False(t, res.Cached)

	got := second.Lookup("Helper", 1)
	require.Len(t, got, 1)
	assert.Equal(t, "new/util.go", got[0].FilePath)
	assert.Equal(t, 3, got[0].Line)

	// Reloading at the new path is served from the cache.
	third := catalog.NewStore(extractor.DefaultRegistry(), catalog.WithSymbolCache(db))
	res, err = third.Load(ctx, catalog.Descriptor{Source: catalog.SourceAST, Path: "new/util.go", Data: body})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "new/util.go", third.Lookup("Helper", 1)[0].FilePath)
}

func TestSQLiteStore_CatalogStoreUsesCache(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	d := catalog.Descriptor{
		Source: catalog.SourceMarkdown,
		ID:     "catalog.md",
		Data:   []byte("### `backend/converter.py`\n- Line 42: `DocumentConverter` (class)\n"),
	}

	first := catalog.NewStore(extractor.DefaultRegistry(), catalog.WithSymbolCache(db))
	res, err := first.Load(ctx, d)
	require.NoError(t, err)
	assert.False(t, res.Cached)

	second := catalog.NewStore(extractor.DefaultRegistry(), catalog.WithSymbolCache(db))
	res, err = second.Load(ctx, d)
	require.NoError(t, err)
	assert.True(t, res.Cached)

	got := second.Lookup("DocumentConverter", 1)
	require.Len(t, got, 1)
	assert.Equal(t, 42, got[0].Line)
	assert.Equal(t, catalog.SourceMarkdown, got[0].Source)
}

func TestSQLiteStore_Rounds(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	dc := catalog.Symbol{Name: "DocumentConverter", FilePath: "backend/converter.py", Line: 42, Kind: catalog.KindClass, Source: catalog.SourceMarkdown}
	report := ddr.RoundReport{
		SessionID: "s1",
		RoundID:   "r1",
		Attempt:   1,
		Metrics:   gate.Snapshot{TotalClaims: 2, VerifiedClaims: 1, UnverifiedClaims: 1, HallRate: 0.5, Threshold: 0.02, Exceeded: true},
		Results: []validator.Result{
			{Claim: validator.Claim{Text: "DocumentConverter"}, Key: "documentconverter", Validated: true, Confidence: 0.8, SourcesAgreeing: 1, Reason: validator.ReasonVerified, MatchedSymbols: []catalog.Symbol{dc}},
			{Claim: validator.Claim{Text: "FakeSymbol"}, Key: "fakesymbol", Reason: validator.ReasonNotFound},
		},
		At: at,
	}
	require.NoError(t, store.RecordRound(ctx, report))

	report.Attempt = 2
	report.Accepted = true
	report.Metrics.Exceeded = false
	report.Results = report.Results[:1]
	require.NoError(t, store.RecordRound(ctx, report))

	rounds, err := store.ListRounds(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, 1, rounds[0].Attempt)
	assert.True(t, rounds[0].Exceeded)
	assert.False(t, rounds[0].Accepted)
	assert.Equal(t, 0.5, rounds[0].HallRate)
	assert.True(t, rounds[1].Accepted)
	assert.True(t, at.Equal(rounds[0].TakenAt))

	results, err := store.ClaimResults(ctx, "r1", 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Validated)
	require.NotNil(t, results[0].Best)
	assert.Equal(t, "backend/converter.py", results[0].Best.FilePath)
	assert.Equal(t, "not_found", results[1].Reason)
	assert.Nil(t, results[1].Best)

	// Recording an attempt again replaces it.
	require.NoError(t, store.RecordRound(ctx, report))
	results, err = store.ClaimResults(ctx, "r1", 2)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSQLiteStore_AsRoundRecorder(t *testing.T) {
	db := openStore(t)
	store := catalog.NewStore(extractor.DefaultRegistry())
	s := ddr.New(store, ddr.WithRoundRecorder(db))
	_, err := s.LoadCatalog(context.Background(), catalog.Descriptor{
		Source: catalog.SourceMarkdown,
		ID:     "c.md",
		Data:   []byte("### `a.py`\n- Line 1: `Foo` (class)\n"),
	})
	require.NoError(t, err)

	round, err := (&ddr.RetryController{Session: s, MaxAttempts: 1}).Run(context.Background(), func(context.Context, int) ([]validator.Claim, error) {
		return []validator.Claim{{Text: "Foo"}}, nil
	})
	require.NoError(t, err)

	rounds, err := db.ListRounds(context.Background(), round.RoundID)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, s.ID(), rounds[0].SessionID)
	assert.True(t, rounds[0].Accepted)
}

func TestSQLiteStore_RoundKeepsClaimPositions(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	// A canceled batch returns the completed claims 0 and 3 only.
	report := ddr.RoundReport{
		SessionID: "s1",
		RoundID:   "partial",
		Attempt:   1,
		Metrics:   gate.Snapshot{TotalClaims: 2, VerifiedClaims: 1, UnverifiedClaims: 1, HallRate: 0.5, Threshold: 0.02, Exceeded: true},
		Results: []validator.Result{
			{Claim: validator.Claim{Text: "Foo"}, Key: "foo", Validated: true, Reason: validator.ReasonVerified},
			{Claim: validator.Claim{Text: "Bar"}, Key: "bar", Reason: validator.ReasonNotFound},
		},
		Indices: []int{0, 3},
		At:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.RecordRound(ctx, report))

	results, err := store.ClaimResults(ctx, "partial", 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, 3, results[1].Index)
	assert.Equal(t, "Bar", results[1].Claim)
}
