package storage

import (
	"context"

	"docground/internal/catalog"
	"docground/internal/ddr"
)

// Store combines the symbol cache and round history.
type Store interface {
	SymbolStore
	RoundStore
	Close() error
}

// SymbolStore persists extracted symbols keyed by input content hash.
type SymbolStore interface {
	catalog.SymbolCache

	// CachedSets lists the cached (source, content hash) pairs.
	CachedSets(ctx context.Context) ([]SymbolSet, error)
}

// RoundStore persists retry round attempts and their claim verdicts.
type RoundStore interface {
	ddr.RoundRecorder

	// ListRounds returns every attempt of a round in attempt order.
	ListRounds(ctx context.Context, roundID string) ([]RoundSummary, error)

	// ClaimResults returns the stored verdicts of one attempt in claim order.
	ClaimResults(ctx context.Context, roundID string, attempt int) ([]ClaimRecord, error)
}
