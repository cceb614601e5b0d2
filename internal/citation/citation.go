package citation

import (
	"fmt"
	"regexp"
	"strings"

	"docground/internal/catalog"
	"docground/internal/validator"
)

var (
	inlineCodeRe = regexp.MustCompile("`([^`\n]+)`")
	symbolLikeRe = regexp.MustCompile(`^[A-Za-z_$][\w$]*(?:(?:\.|::|#|/)[A-Za-z_$][\w$]*)*$`)
)

// span is one inline-code reference in the text.
type span struct {
	start, end int // byte offsets of the whole `...` token
	raw        string
	claim      string
	linked     bool
}

// scan returns the inline-code spans outside fenced code blocks.
func scan(text string) []span {
	var out []span
	inFence := false
	fence := ""
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if marker := fenceMarker(trimmed); marker != "" {
			switch {
			case !inFence:
				inFence, fence = true, marker
			case strings.HasPrefix(trimmed, fence):
				inFence = false
			}
			offset += len(line)
			continue
		}
		if !inFence {
			for _, m := range inlineCodeRe.FindAllStringSubmatchIndex(line, -1) {
				raw := line[m[2]:m[3]]
				start, end := offset+m[0], offset+m[1]
				out = append(out, span{
					start:  start,
					end:    end,
					raw:    raw,
					claim:  claimText(raw),
					linked: start > 0 && text[start-1] == '[' && strings.HasPrefix(text[end:], "]("),
				})
			}
		}
		offset += len(line)
	}
	return out
}

func fenceMarker(line string) string {
	for _, m := range []string{"```", "~~~"} {
		if strings.HasPrefix(line, m) {
			return m
		}
	}
	return ""
}

// claimText strips call syntax such as "convert()" or "convert(self)".
func claimText(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "("); i > 0 && strings.HasSuffix(s, ")") {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// ExtractClaims collects symbol-like inline-code references outside fenced
// blocks, in first-seen order without duplicates. Existing citations are
// skipped. Each claim carries its source line as context.
func ExtractClaims(text string) []validator.Claim {
	seen := make(map[string]bool)
	var claims []validator.Claim
	for _, sp := range scan(text) {
		if sp.linked || !symbolLikeRe.MatchString(sp.claim) {
			continue
		}
		key := catalog.Normalize(sp.claim)
		if seen[key] {
			continue
		}
		seen[key] = true
		claims = append(claims, validator.Claim{Text: sp.claim, Context: lineAt(text, sp.start)})
	}
	return claims
}

func lineAt(text string, pos int) string {
	start := strings.LastIndexByte(text[:pos], '\n') + 1
	end := strings.IndexByte(text[pos:], '\n')
	if end < 0 {
		return strings.TrimSpace(text[start:])
	}
	return strings.TrimSpace(text[start : pos+end])
}

// Options controls Annotate.
type Options struct {
	// DropUnverified removes the code formatting of unverified references
	// instead of flagging them.
	DropUnverified bool
	// FlagMarker is appended after unverified references. Defaults to " [unverified]".
	FlagMarker string
}

// Stats counts the rewrites made by Annotate.
type Stats struct {
	Cited   int
	Flagged int
	Dropped int
}

// Annotate links the first occurrence of every verified claim to its best
// matching symbol as [`Name`](path#Lline) and flags or drops every
// occurrence of unverified ones. References without a result are left as is.
func Annotate(text string, results []validator.Result, opts Options) (string, Stats) {
	if opts.FlagMarker == "" {
		opts.FlagMarker = " [unverified]"
	}
	byKey := make(map[string]validator.Result, len(results))
	for _, r := range results {
		if _, ok := byKey[r.Key]; !ok {
			byKey[r.Key] = r
		}
	}

	var b strings.Builder
	var stats Stats
	cited := make(map[string]bool)
	last := 0
	for _, sp := range scan(text) {
		if sp.linked {
			continue
		}
		key := catalog.Normalize(sp.claim)
		res, ok := byKey[key]
		if !ok {
			continue
		}

		var repl string
		switch {
		case res.Validated:
			if cited[key] {
				continue
			}
			sym, ok := res.Best()
			if !ok {
				continue
			}
			cited[key] = true
			repl = Link(sp.raw, sym)
			stats.Cited++
		case opts.DropUnverified:
			repl = sp.raw
			stats.Dropped++
		default:
			repl = text[sp.start:sp.end] + opts.FlagMarker
			stats.Flagged++
		}
		b.WriteString(text[last:sp.start])
		b.WriteString(repl)
		last = sp.end
	}
	b.WriteString(text[last:])
	return b.String(), stats
}

// Link formats a citation for label pointing at sym.
func Link(label string, sym catalog.Symbol) string {
	return fmt.Sprintf("[`%s`](%s#L%d)", label, sym.FilePath, sym.Line)
}
