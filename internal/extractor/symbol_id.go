package extractor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"docground/internal/catalog"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// BuildStableSymbolID creates a deterministic symbol ID.
// The ID is derived from the source, location and name so that the same
// definition extracted twice maps to the same ID.
func BuildStableSymbolID(source catalog.Source, filePath string, kind catalog.Kind, name string, line int) string {
	src := strings.TrimSpace(string(source))
	if src == "" {
		src = "unknown"
	}

	path := canonicalize(filePath)
	if path == "" {
		path = "_"
	}

	k := strings.TrimSpace(string(kind))
	if k == "" {
		k = string(catalog.KindUnknown)
	}

	n := canonicalize(name)
	if n == "" {
		n = "_"
	}

	fingerprint := strings.Join([]string{
		src,
		path,
		k,
		n,
		fmt.Sprint(line),
	}, "|")

	sum := sha256.Sum256([]byte(fingerprint))
	short := hex.EncodeToString(sum[:8])
	return fmt.Sprintf("%s/%s:%s:%s", src, k, n, short)
}

// newSymbol builds a catalog symbol with its stable ID.
func newSymbol(source catalog.Source, name string, kind catalog.Kind, filePath string, line int, doc string) catalog.Symbol {
	return catalog.Symbol{
		ID:            BuildStableSymbolID(source, filePath, kind, name, line),
		Name:          name,
		Kind:          kind,
		FilePath:      filePath,
		Line:          line,
		Documentation: strings.TrimSpace(doc),
		Source:        source,
	}
}

func canonicalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return whitespaceRe.ReplaceAllString(s, " ")
}
