package validator

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"docground/internal/catalog"
)

// Reason explains a validation outcome.
type Reason string

const (
	ReasonVerified     Reason = "verified"
	ReasonCorroborated Reason = "corroborated"
	ReasonNotFound     Reason = "not_found"
	ReasonKindMismatch Reason = "kind_mismatch"
	ReasonMalformed    Reason = "malformed"
	ReasonFuzzy        Reason = "fuzzy"
)

// MaxClaimLength is the longest claim, in bytes, that is looked up.
const MaxClaimLength = 256

// Claim is a token asserted by generated content.
type Claim struct {
	Text string `json:"text"`
	// Context is the surrounding text, carried through for callers.
	Context      string       `json:"context,omitempty"`
	ExpectedKind catalog.Kind `json:"expected_kind,omitempty"`
}

// Result is the verdict for one claim.
type Result struct {
	Claim            Claim            `json:"claim"`
	Key              string           `json:"key"`
	Validated        bool             `json:"validated"`
	MatchedSymbols   []catalog.Symbol `json:"matched_symbols"`
	Confidence       float64          `json:"confidence"`
	SourcesAgreeing  int              `json:"sources_agreeing"`
	SourcesConsulted int              `json:"sources_consulted"`
	WinningSource    catalog.Source   `json:"winning_source,omitempty"`
	Reason           Reason           `json:"reason"`
	Fuzzy            bool             `json:"fuzzy,omitempty"`
}

// Best returns the preferred matched symbol.
func (r Result) Best() (catalog.Symbol, bool) {
	if len(r.MatchedSymbols) == 0 {
		return catalog.Symbol{}, false
	}
	return r.MatchedSymbols[0], true
}

// Validator resolves claims against a catalog snapshot. It holds no mutable
// state and is safe for concurrent use.
type Validator struct {
	weights     Weights
	fuzzy       bool
	fuzzyMinLen int
}

// Option configures a Validator.
type Option func(*Validator)

// WithWeights overrides per-source trust weights. Unlisted sources keep the default.
func WithWeights(w Weights) Option {
	return func(v *Validator) {
		for src, weight := range w {
			v.weights[src] = weight
		}
	}
}

// WithFuzzy enables substring matching after an exact miss, for keys of at
// least minKeyLen characters.
func WithFuzzy(minKeyLen int) Option {
	return func(v *Validator) {
		v.fuzzy = true
		if minKeyLen > 0 {
			v.fuzzyMinLen = minKeyLen
		}
	}
}

// New creates a validator.
func New(opts ...Option) *Validator {
	v := &Validator{weights: DefaultWeights(), fuzzyMinLen: 4}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Weight returns the trust weight in force for a source.
func (v *Validator) Weight(source catalog.Source) float64 {
	return v.weights.Weight(source)
}

// Validate resolves claim against every catalog in snap. Unfound and
// malformed claims are results, never errors. maxResults <= 0 keeps every
// matched occurrence.
func (v *Validator) Validate(snap *catalog.Snapshot, claim Claim, maxResults int) Result {
	sources := snap.Sources()
	res := Result{
		Claim:            claim,
		Key:              catalog.Normalize(claim.Text),
		SourcesConsulted: len(sources),
		Reason:           ReasonNotFound,
	}
	if malformed(claim.Text, res.Key) {
		res.Reason = ReasonMalformed
		return res
	}

	bySource := snap.LookupBySource(res.Key)
	if len(bySource) == 0 {
		if v.fuzzy {
			return v.fuzzyMatch(snap, sources, claim, res, maxResults)
		}
		return res
	}

	if claim.ExpectedKind != "" && claim.ExpectedKind != catalog.KindUnknown {
		for src, occ := range bySource {
			kept := filterKind(occ, claim.ExpectedKind)
			if len(kept) == 0 {
				delete(bySource, src)
				continue
			}
			bySource[src] = kept
		}
		if len(bySource) == 0 {
			res.Reason = ReasonKindMismatch
			return res
		}
	}

	return v.score(sources, bySource, catalog.StripMarkers(claim.Text), res, maxResults)
}

func (v *Validator) score(order []catalog.Source, bySource map[catalog.Source][]catalog.Symbol, exact string, res Result, maxResults int) Result {
	var agreeing []catalog.Source
	for _, src := range order {
		if len(bySource[src]) > 0 {
			agreeing = append(agreeing, src)
		}
	}
	if len(agreeing) == 0 {
		res.Reason = ReasonNotFound
		return res
	}

	winner := agreeing[0]
	for _, src := range agreeing[1:] {
		if v.Weight(src) > v.Weight(winner) {
			winner = src
		}
	}

	matched := rank(bySource[winner], exact)
	for _, src := range agreeing {
		if src != winner {
			matched = append(matched, rank(bySource[src], exact)...)
		}
	}
	if maxResults > 0 && len(matched) > maxResults {
		matched = matched[:maxResults]
	}

	res.Validated = true
	res.MatchedSymbols = matched
	res.SourcesAgreeing = len(agreeing)
	res.WinningSource = winner
	if len(agreeing) == 1 {
		res.Confidence = singleSourceConfidence(v.Weight(winner))
		res.Reason = ReasonVerified
		return res
	}
	weights := make([]float64, len(agreeing))
	for i, src := range agreeing {
		weights[i] = v.Weight(src)
	}
	res.Confidence = multiSourceConfidence(weights)
	res.Reason = ReasonCorroborated
	return res
}

// fuzzyMatch runs bidirectional substring containment over punctuation-stripped keys.
func (v *Validator) fuzzyMatch(snap *catalog.Snapshot, order []catalog.Source, claim Claim, res Result, maxResults int) Result {
	needle := stripPunct(res.Key)
	if utf8.RuneCountInString(needle) < v.fuzzyMinLen {
		return res
	}

	bySource := make(map[catalog.Source][]catalog.Symbol)
	kindMismatch := false
	for _, key := range snap.Keys() {
		hay := stripPunct(key)
		if utf8.RuneCountInString(hay) < v.fuzzyMinLen {
			continue
		}
		if !strings.Contains(hay, needle) && !strings.Contains(needle, hay) {
			continue
		}
		for src, occ := range snap.LookupBySource(key) {
			if claim.ExpectedKind != "" && claim.ExpectedKind != catalog.KindUnknown {
				occ = filterKind(occ, claim.ExpectedKind)
			}
			if len(occ) == 0 {
				kindMismatch = true
				continue
			}
			bySource[src] = append(bySource[src], occ...)
		}
	}
	if len(bySource) == 0 {
		if kindMismatch {
			res.Reason = ReasonKindMismatch
		}
		return res
	}

	res = v.score(order, bySource, catalog.StripMarkers(claim.Text), res, maxResults)
	if !res.Validated {
		return res
	}
	res.Confidence = singleSourceConfidence(v.Weight(res.WinningSource)) * fuzzyDiscount
	res.Reason = ReasonFuzzy
	res.Fuzzy = true
	return res
}

// rank orders occurrences by exact case match, then shortest file path, then
// insertion order.
func rank(occ []catalog.Symbol, exact string) []catalog.Symbol {
	out := slices.Clone(occ)
	slices.SortStableFunc(out, func(a, b catalog.Symbol) int {
		ae, be := a.Name == exact, b.Name == exact
		if ae != be {
			if ae {
				return -1
			}
			return 1
		}
		return cmp.Compare(len(a.FilePath), len(b.FilePath))
	})
	return out
}

func filterKind(occ []catalog.Symbol, kind catalog.Kind) []catalog.Symbol {
	var out []catalog.Symbol
	for _, s := range occ {
		if s.Kind == kind || s.Kind == catalog.KindUnknown {
			out = append(out, s)
		}
	}
	return out
}

func malformed(raw, key string) bool {
	raw = strings.TrimSpace(raw)
	return key == "" || len(raw) > MaxClaimLength || strings.ContainsAny(raw, "\r\n")
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
