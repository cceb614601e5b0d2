package crawler

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"docground/internal/catalog"
	"docground/internal/extractor"
)

// Crawler scans a corpus directory for catalog inputs.
type Crawler struct {
	sources      []catalog.Source
	ignored      []string
	only         map[string]bool
	includeTests bool
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithTests keeps Go _test.go files, which are skipped by default.
func WithTests() Option {
	return func(c *Crawler) { c.includeTests = true }
}

// WithIgnoredDirs adds directory names that are never entered.
func WithIgnoredDirs(names ...string) Option {
	return func(c *Crawler) { c.ignored = append(c.ignored, names...) }
}

// WithOnly restricts the scan to the given root-relative paths, such as the
// files touched by a change set.
func WithOnly(paths ...string) Option {
	return func(c *Crawler) {
		if c.only == nil {
			c.only = make(map[string]bool, len(paths))
		}
		for _, p := range paths {
			c.only[filepath.ToSlash(filepath.Clean(p))] = true
		}
	}
}

// NewCrawler creates a crawler emitting descriptors for the given sources.
// Without sources it emits Go AST and syntax-tree descriptors.
func NewCrawler(sources []catalog.Source, opts ...Option) *Crawler {
	if len(sources) == 0 {
		sources = []catalog.Source{catalog.SourceAST, catalog.SourceSyntaxTree}
	}
	c := &Crawler{
		sources: sources,
		ignored: []string{".git", "vendor", "node_modules", "testdata"},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Scan collects the descriptors of every matching file under root.
func (c *Crawler) Scan(ctx context.Context, root string) ([]catalog.Descriptor, error) {
	var out []catalog.Descriptor
	err := c.ScanProject(ctx, root, func(d catalog.Descriptor) {
		out = append(out, d)
	})
	return out, err
}

// ScanProject walks root and streams one descriptor per file per source.
// The root .gitignore, when present, is honored.
func (c *Crawler) ScanProject(ctx context.Context, root string, onDescriptor func(catalog.Descriptor)) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	gi, err := loadGitignore(root)
	if err != nil {
		return err
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == root {
				return nil
			}
			if slices.Contains(c.ignored, d.Name()) || (gi != nil && gi.MatchesPath(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		if c.only != nil && !c.only[rel] {
			return nil
		}

		for _, src := range c.sources {
			if c.accepts(src, d.Name()) {
				onDescriptor(catalog.Descriptor{ID: rel, Source: src, Path: path, Root: root})
			}
		}
		return nil
	})
}

func (c *Crawler) accepts(src catalog.Source, name string) bool {
	lower := strings.ToLower(name)
	switch src {
	case catalog.SourceAST:
		return strings.HasSuffix(lower, ".go") && (c.includeTests || !strings.HasSuffix(lower, "_test.go"))
	case catalog.SourceSyntaxTree:
		if strings.HasSuffix(lower, "_test.go") && !c.includeTests {
			return false
		}
		return slices.Contains(extractor.SupportedExtensions(), strings.ToLower(filepath.Ext(name)))
	case catalog.SourceCompiledIndex:
		return strings.HasSuffix(lower, ".scip")
	case catalog.SourceCodeIntel:
		return strings.HasSuffix(lower, ".lsp.json")
	case catalog.SourceMarkdown:
		return strings.HasSuffix(lower, ".md")
	}
	return false
}

func loadGitignore(root string) (*ignore.GitIgnore, error) {
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return ignore.CompileIgnoreFile(path)
}
