package ddr

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"docground/internal/catalog"
	"docground/internal/gate"
	"docground/internal/validator"
)

// DefaultCacheSize is the number of validation results kept per session.
const DefaultCacheSize = 1024

// Session is a caller-owned retrieval session: one combined catalog, one
// validator and one hallucination gate. Construct one per generation round
// and Reset or discard it at the round boundary.
type Session struct {
	id          string
	store       *catalog.Store
	validator   *validator.Validator
	gate        *gate.Gate
	cache       *resultCache
	cacheSize   int
	concurrency int
	maxResults  int
	progress    func(Progress)
	recorder    RoundRecorder
	logger      *slog.Logger

	// mu serializes gate and batch progress updates.
	mu sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithValidator replaces the default validator.
func WithValidator(v *validator.Validator) Option {
	return func(s *Session) { s.validator = v }
}

// WithGate replaces the default gate.
func WithGate(g *gate.Gate) Option {
	return func(s *Session) { s.gate = g }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCacheSize sets the result cache capacity. Zero or less disables caching.
func WithCacheSize(n int) Option {
	return func(s *Session) { s.cacheSize = n }
}

// WithConcurrency sets the default batch worker count. Zero means one
// worker per CPU.
func WithConcurrency(n int) Option {
	return func(s *Session) { s.concurrency = n }
}

// WithMaxResults sets how many matched symbols batch results keep.
func WithMaxResults(n int) Option {
	return func(s *Session) { s.maxResults = n }
}

// WithProgress registers a callback invoked after every completed claim.
// It runs under the session lock and must not call back into the session.
func WithProgress(fn func(Progress)) Option {
	return func(s *Session) { s.progress = fn }
}

// WithRoundRecorder persists every retry attempt.
func WithRoundRecorder(r RoundRecorder) Option {
	return func(s *Session) { s.recorder = r }
}

// New creates a session over store.
func New(store *catalog.Store, opts ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		store:      store,
		cacheSize:  DefaultCacheSize,
		maxResults: 5,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = validator.New()
	}
	if s.gate == nil {
		s.gate = gate.Default(gate.WithLogger(s.logger))
	}
	s.cache = newResultCache(s.cacheSize)
	return s
}

// ID is the session identifier.
func (s *Session) ID() string { return s.id }

// Store returns the session catalog store.
func (s *Session) Store() *catalog.Store { return s.store }

// Gate returns the session gate.
func (s *Session) Gate() *gate.Gate { return s.gate }

// LoadCatalog loads one descriptor into the session's combined catalog.
func (s *Session) LoadCatalog(ctx context.Context, d catalog.Descriptor) (catalog.LoadResult, error) {
	res, err := s.store.Load(ctx, d)
	if err != nil {
		s.logger.Warn("catalog load failed", "descriptor", d.Identity(), "error", err)
		return res, err
	}
	s.logger.Debug("catalog loaded",
		"descriptor", d.Identity(),
		"symbols", res.Symbols,
		"warnings", res.Warnings,
		"duplicate", res.Duplicate,
		"generation", res.Generation)
	return res, nil
}

// LoadCatalogs loads descriptors concurrently. Every failure is reported in
// the joined error; successful descriptors stay loaded.
func (s *Session) LoadCatalogs(ctx context.Context, ds []catalog.Descriptor) ([]catalog.LoadResult, error) {
	results, errs := s.store.LoadAll(ctx, ds, s.workers(0))
	for i, err := range errs {
		if err != nil {
			s.logger.Warn("catalog load failed", "descriptor", ds[i].Identity(), "error", err)
		}
	}
	return results, errors.Join(errs...)
}

// Retrieve validates a single claim and records the outcome in the gate.
func (s *Session) Retrieve(ctx context.Context, claim validator.Claim, maxResults int) (validator.Result, error) {
	if err := ctx.Err(); err != nil {
		return validator.Result{}, err
	}
	snap := s.store.Snapshot()
	if snap.Empty() {
		return validator.Result{}, catalog.ErrNoCatalogs
	}
	res := s.validate(snap, claim, maxResults)

	s.mu.Lock()
	s.gate.Record(res.Validated)
	s.mu.Unlock()
	return res, nil
}

// GetHallucinationMetrics returns the running aggregate.
func (s *Session) GetHallucinationMetrics() gate.Snapshot {
	return s.gate.Snapshot()
}

// Check is the strict form of GetHallucinationMetrics.
func (s *Session) Check() (gate.Snapshot, error) {
	return s.gate.Check()
}

// Reset zeroes the gate counters and clears cached results.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate.Reset()
	s.cache.purge()
}

func (s *Session) validate(snap *catalog.Snapshot, claim validator.Claim, maxResults int) validator.Result {
	key := cacheKey{
		generation: snap.Generation(),
		kind:       claim.ExpectedKind,
		claim:      catalog.StripMarkers(claim.Text),
		maxResults: maxResults,
	}
	if res, ok := s.cache.get(key); ok {
		res.Claim = claim
		return res
	}
	res := s.validator.Validate(snap, claim, maxResults)
	s.cache.add(key, res)
	return res
}

func (s *Session) workers(n int) int {
	if n <= 0 {
		n = s.concurrency
	}
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return n
}
