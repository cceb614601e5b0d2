package extractor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"docground/internal/catalog"
)

var (
	fileHeadingRe = regexp.MustCompile("^###\\s+`([^`]+)`\\s*$")
	symbolLineRe  = regexp.MustCompile("^-\\s+Line\\s+(-?\\d+):\\s+`([^`]+)`\\s*(?:\\(([^)]*)\\))?\\s*$")
)

// MarkdownExtractor parses symbol catalogs written as
//
//	### `path/to/file.py`
//	- Line 42: `Name` (class)
//
// Blank lines, prose and other heading levels are ignored. Malformed file
// headings and symbol bullets are skipped and counted as warnings.
type MarkdownExtractor struct{}

// NewMarkdownExtractor creates a markdown catalog extractor.
func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{}
}

func (m *MarkdownExtractor) Extract(ctx context.Context, path string, src []byte) (catalog.Extraction, error) {
	var ex catalog.Extraction
	var current string

	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return catalog.Extraction{}, err
			}
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, "### "):
			hm := fileHeadingRe.FindStringSubmatch(line)
			if hm == nil {
				current = ""
				ex.Warn(fmt.Sprintf("%s:%d: malformed file heading", path, lineNo))
				continue
			}
			current = strings.TrimSpace(hm[1])

		case strings.HasPrefix(line, "- "):
			sm := symbolLineRe.FindStringSubmatch(line)
			if sm == nil {
				ex.Warn(fmt.Sprintf("%s:%d: malformed symbol line", path, lineNo))
				continue
			}
			if current == "" {
				ex.Warn(fmt.Sprintf("%s:%d: symbol line outside a file section", path, lineNo))
				continue
			}
			n, err := strconv.Atoi(sm[1])
			if err != nil || n < 1 {
				ex.Warn(fmt.Sprintf("%s:%d: invalid line number %q", path, lineNo, sm[1]))
				continue
			}
			name := strings.TrimSpace(sm[2])
			if name == "" {
				ex.Warn(fmt.Sprintf("%s:%d: empty symbol name", path, lineNo))
				continue
			}
			ex.Symbols = append(ex.Symbols, newSymbol(catalog.SourceMarkdown, name, catalog.ParseKind(sm[3]), current, n, ""))
		}
	}
	if err := scanner.Err(); err != nil {
		return catalog.Extraction{}, fmt.Errorf("failed to scan markdown catalog %s: %w", path, err)
	}
	return ex, nil
}
