package catalog

import (
	"maps"
	"slices"
	"time"
)

// Catalog indexes the symbols of a single source by normalized key.
// Occurrences keep extraction order and duplicates across files are retained.
type Catalog struct {
	source  Source
	entries map[string][]Symbol
	count   int
}

func newCatalog(source Source) *Catalog {
	return &Catalog{source: source, entries: make(map[string][]Symbol)}
}

// Source returns the origin of every symbol in the catalog.
func (c *Catalog) Source() Source { return c.source }

// Len returns the number of symbol occurrences.
func (c *Catalog) Len() int { return c.count }

// Keys returns the number of distinct keys.
func (c *Catalog) Keys() int { return len(c.entries) }

// Get returns the occurrences stored under a normalized key.
func (c *Catalog) Get(key string) []Symbol {
	return c.entries[key]
}

// withSymbols returns a copy of c with syms appended. c is left untouched.
func (c *Catalog) withSymbols(syms []Symbol) *Catalog {
	next := &Catalog{
		source:  c.source,
		entries: maps.Clone(c.entries),
		count:   c.count,
	}
	if next.entries == nil {
		next.entries = make(map[string][]Symbol)
	}
	for _, s := range syms {
		key := s.Key()
		// Clip forces a fresh backing array so older snapshots never observe the append.
		next.entries[key] = append(slices.Clip(next.entries[key]), s)
		next.count++
	}
	return next
}

// Snapshot is an immutable, versioned view over all loaded catalogs.
type Snapshot struct {
	generation uint64
	loadedAt   time.Time
	order      []Source
	catalogs   map[Source]*Catalog
	keys       map[string]int
	symbols    int
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		catalogs: make(map[Source]*Catalog),
		keys:     make(map[string]int),
	}
}

// Generation increases by one with every published load.
func (s *Snapshot) Generation() uint64 { return s.generation }

// LoadedAt is the time the snapshot was published.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Sources returns the loaded sources in load order.
func (s *Snapshot) Sources() []Source { return slices.Clone(s.order) }

// Catalog returns the catalog of one source.
func (s *Snapshot) Catalog(source Source) (*Catalog, bool) {
	c, ok := s.catalogs[source]
	return c, ok
}

// Size returns the occurrence count and the number of unique keys across sources.
func (s *Snapshot) Size() (int, int) { return s.symbols, len(s.keys) }

// Empty reports whether nothing has been loaded.
func (s *Snapshot) Empty() bool { return len(s.order) == 0 }

// Lookup returns up to max occurrences for a key, in source load order and
// insertion order within each source. max <= 0 means no limit.
func (s *Snapshot) Lookup(key string, max int) []Symbol {
	key = Normalize(key)
	var out []Symbol
	for _, src := range s.order {
		for _, sym := range s.catalogs[src].entries[key] {
			out = append(out, sym)
			if max > 0 && len(out) >= max {
				return out
			}
		}
	}
	return out
}

// LookupBySource returns every occurrence of a key grouped by source.
func (s *Snapshot) LookupBySource(key string) map[Source][]Symbol {
	key = Normalize(key)
	out := make(map[Source][]Symbol)
	for _, src := range s.order {
		if occ := s.catalogs[src].entries[key]; len(occ) > 0 {
			out[src] = occ
		}
	}
	return out
}

// Keys returns every distinct key, sorted.
func (s *Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// merge builds the next snapshot with additions appended per source.
func (s *Snapshot) merge(additions []sourceBatch, now time.Time) *Snapshot {
	next := &Snapshot{
		generation: s.generation + 1,
		loadedAt:   now,
		order:      slices.Clone(s.order),
		catalogs:   maps.Clone(s.catalogs),
		keys:       maps.Clone(s.keys),
		symbols:    s.symbols,
	}
	grouped := make(map[Source][]Symbol)
	var seen []Source
	for _, b := range additions {
		if _, ok := grouped[b.source]; !ok {
			seen = append(seen, b.source)
		}
		grouped[b.source] = append(grouped[b.source], b.symbols...)
	}
	for _, src := range seen {
		cur, ok := next.catalogs[src]
		if !ok {
			cur = newCatalog(src)
			next.order = append(next.order, src)
		}
		syms := grouped[src]
		next.catalogs[src] = cur.withSymbols(syms)
		for _, sym := range syms {
			next.keys[sym.Key()]++
		}
		next.symbols += len(syms)
	}
	return next
}

type sourceBatch struct {
	source  Source
	symbols []Symbol
}
