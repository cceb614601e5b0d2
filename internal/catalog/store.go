package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// LoadResult summarizes one descriptor load.
type LoadResult struct {
	Descriptor  Descriptor
	Source      Source
	Symbols     int
	Warnings    int
	Duplicate   bool
	Cached      bool
	Generation  uint64
	ContentHash string
	Metadata    map[string]string
}

// Store is the combined, queryable index over every loaded catalog.
// Reads go through immutable snapshots; loads are merged by a single writer.
type Store struct {
	resolver ExtractorResolver
	cache    SymbolCache
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	loaded  map[string]string
	byHash  map[string]string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSymbolCache makes the store consult c before running an extractor.
func WithSymbolCache(c SymbolCache) StoreOption {
	return func(s *Store) { s.cache = c }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty store resolving extractors through r.
func NewStore(r ExtractorResolver, opts ...StoreOption) *Store {
	s := &Store{
		resolver: r,
		logger:   slog.Default(),
		now:      time.Now,
		loaded:   make(map[string]string),
		byHash:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(emptySnapshot())
	return s
}

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Lookup normalizes key and returns up to max occurrences.
func (s *Store) Lookup(key string, max int) []Symbol {
	return s.Snapshot().Lookup(key, max)
}

// Size returns (symbol count, unique key count).
func (s *Store) Size() (int, int) {
	return s.Snapshot().Size()
}

// Load extracts one descriptor and publishes a new snapshot. Loading the
// same descriptor, or identical content for the same source, is a no-op.
// For path-bound sources identical content only dedupes at the same path.
func (s *Store) Load(ctx context.Context, d Descriptor) (LoadResult, error) {
	if res, dup := s.duplicateByIdentity(d); dup {
		return res, nil
	}

	pending, err := s.extract(ctx, d)
	if err != nil {
		return LoadResult{Descriptor: d, Source: d.Source}, err
	}
	if pending.duplicate {
		return pending.result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishLocked([]*pendingLoad{pending})[0], nil
}

// LoadAll extracts descriptors concurrently and merges them in one step.
// Results and errors are index-aligned with ds; a failed descriptor does not
// affect the others.
func (s *Store) LoadAll(ctx context.Context, ds []Descriptor, concurrency int) ([]LoadResult, []error) {
	results := make([]LoadResult, len(ds))
	errs := make([]error, len(ds))
	pending := make([]*pendingLoad, len(ds))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, d := range ds {
		g.Go(func() error {
			if res, dup := s.duplicateByIdentity(d); dup {
				results[i] = res
				return nil
			}
			p, err := s.extract(gctx, d)
			if err != nil {
				results[i] = LoadResult{Descriptor: d, Source: d.Source}
				errs[i] = err
				return nil
			}
			if p.duplicate {
				results[i] = p.result
				return nil
			}
			pending[i] = p
			return nil
		})
	}
	_ = g.Wait()

	var batch []*pendingLoad
	var idx []int
	for i, p := range pending {
		if p != nil {
			batch = append(batch, p)
			idx = append(idx, i)
		}
	}
	if len(batch) == 0 {
		return results, errs
	}

	s.mu.Lock()
	published := s.publishLocked(batch)
	s.mu.Unlock()
	for j, i := range idx {
		results[i] = published[j]
	}
	return results, errs
}

type pendingLoad struct {
	descriptor Descriptor
	hash       string
	key        string
	extraction Extraction
	cached     bool
	duplicate  bool
	result     LoadResult
}

func (s *Store) duplicateByIdentity(d Descriptor) (LoadResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.loaded[d.Identity()]
	if !ok {
		return LoadResult{}, false
	}
	return LoadResult{
		Descriptor:  d,
		Source:      d.Source,
		Duplicate:   true,
		Generation:  s.Snapshot().Generation(),
		ContentHash: hash,
	}, true
}

func (s *Store) extract(ctx context.Context, d Descriptor) (*pendingLoad, error) {
	if err := ctx.Err(); err != nil {
		return nil, loadError(d, err)
	}
	ext, ok := s.resolver.ExtractorFor(d.Source)
	if !ok {
		return nil, loadError(d, fmt.Errorf("%w: %q", ErrUnknownSource, d.Source))
	}

	src := d.Data
	if src == nil {
		b, err := os.ReadFile(d.Path)
		if err != nil {
			return nil, loadError(d, fmt.Errorf("failed to read %s: %w", d.Path, err))
		}
		src = b
	}

	sum := sha256.Sum256(src)
	hash := hex.EncodeToString(sum[:])
	path := contentPath(d)
	hashKey := contentKey(d.Source, path, hash)

	s.mu.Lock()
	_, seen := s.byHash[hashKey]
	s.mu.Unlock()
	if seen {
		return &pendingLoad{duplicate: true, result: LoadResult{
			Descriptor:  d,
			Source:      d.Source,
			Duplicate:   true,
			Generation:  s.Snapshot().Generation(),
			ContentHash: hash,
		}}, nil
	}

	p := &pendingLoad{descriptor: d, hash: hash, key: hashKey}
	if s.cache != nil {
		syms, hit, err := s.cache.CachedSymbols(ctx, d.Source, path, hash)
		if err != nil {
			s.logger.Warn("symbol cache read failed", "descriptor", d.Identity(), "error", err)
		} else if hit && len(syms) > 0 {
			p.extraction = Extraction{Symbols: syms}
			p.cached = true
		}
	}

	if !p.cached {
		ex, err := ext.Extract(ctx, relativePath(d), src)
		if err != nil {
			return nil, loadError(d, err)
		}
		p.extraction = sanitize(ex, d.Source)
		if s.cache != nil && len(p.extraction.Symbols) > 0 {
			if err := s.cache.CacheSymbols(ctx, d.Source, path, hash, p.extraction.Symbols); err != nil {
				s.logger.Warn("symbol cache write failed", "descriptor", d.Identity(), "error", err)
			}
		}
	}

	if p.extraction.Warnings > 0 {
		s.logger.Debug("extraction warnings",
			"descriptor", d.Identity(),
			"warnings", p.extraction.Warnings,
			"details", p.extraction.WarningDetails)
	}
	if len(p.extraction.Symbols) == 0 {
		return nil, loadError(d, ErrEmptyCatalog)
	}
	return p, nil
}

// publishLocked merges pending loads into a new snapshot. Caller holds s.mu.
func (s *Store) publishLocked(batch []*pendingLoad) []LoadResult {
	results := make([]LoadResult, len(batch))
	var additions []sourceBatch
	for i, p := range batch {
		d := p.descriptor
		res := LoadResult{
			Descriptor:  d,
			Source:      d.Source,
			Warnings:    p.extraction.Warnings,
			Cached:      p.cached,
			ContentHash: p.hash,
			Metadata:    p.extraction.Metadata,
		}
		_, idSeen := s.loaded[d.Identity()]
		_, hashSeen := s.byHash[p.key]
		if idSeen || hashSeen {
			res.Duplicate = true
			results[i] = res
			continue
		}
		s.loaded[d.Identity()] = p.hash
		s.byHash[p.key] = d.Identity()
		res.Symbols = len(p.extraction.Symbols)
		additions = append(additions, sourceBatch{source: d.Source, symbols: p.extraction.Symbols})
		results[i] = res
	}

	cur := s.Snapshot()
	if len(additions) > 0 {
		next := cur.merge(additions, s.now())
		s.current.Store(next)
		cur = next
		symbols, keys := next.Size()
		s.logger.Info("catalog snapshot published",
			"generation", next.Generation(),
			"symbols", symbols,
			"unique_keys", keys)
	}
	for i := range results {
		results[i].Generation = cur.Generation()
	}
	return results
}

// sanitize stamps the source and drops symbols that violate the model.
func sanitize(ex Extraction, source Source) Extraction {
	kept := ex.Symbols[:0:0]
	for _, sym := range ex.Symbols {
		if Normalize(sym.Name) == "" || sym.Line < 1 {
			ex.Warn(fmt.Sprintf("dropped invalid symbol %q at line %d", sym.Name, sym.Line))
			continue
		}
		sym.Source = source
		if sym.Kind == "" {
			sym.Kind = KindUnknown
		}
		kept = append(kept, sym)
	}
	ex.Symbols = kept
	return ex
}

// contentPath is the path that distinguishes identical content of d.
func contentPath(d Descriptor) string {
	if !d.Source.PathBound() {
		return ""
	}
	return relativePath(d)
}

func contentKey(source Source, path, hash string) string {
	return string(source) + "|" + path + "|" + hash
}

func relativePath(d Descriptor) string {
	p := d.Path
	if d.Root != "" {
		if rel, err := filepath.Rel(d.Root, d.Path); err == nil {
			p = rel
		}
	}
	return filepath.ToSlash(p)
}
