package storage

import (
	"time"

	"docground/internal/catalog"
)

// SymbolSet describes one cached extraction.
type SymbolSet struct {
	Source      catalog.Source
	Path        string // set for path-bound sources only
	ContentHash string
	Symbols     int
	CreatedAt   time.Time
}

// RoundSummary is the stored gate outcome of one attempt.
type RoundSummary struct {
	RoundID   string
	Attempt   int
	SessionID string
	Accepted  bool
	Total     int
	Verified  int
	HallRate  float64
	Threshold float64
	Exceeded  bool
	TakenAt   time.Time
}

// ClaimRecord is the stored verdict of one claim.
type ClaimRecord struct {
	Index           int
	Claim           string
	Key             string
	Validated       bool
	Confidence      float64
	SourcesAgreeing int
	Reason          string
	Best            *catalog.Symbol
}
