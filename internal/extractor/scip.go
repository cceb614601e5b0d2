package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"docground/internal/catalog"
)

// SCIP field numbers (scip.proto).
const (
	scipIndexMetadata  protowire.Number = 1
	scipIndexDocuments protowire.Number = 2

	scipMetadataToolInfo    protowire.Number = 2
	scipMetadataProjectRoot protowire.Number = 3

	scipToolInfoName    protowire.Number = 1
	scipToolInfoVersion protowire.Number = 2

	scipDocumentRelativePath protowire.Number = 1
	scipDocumentOccurrences  protowire.Number = 2
	scipDocumentSymbols      protowire.Number = 3

	scipOccurrenceRange  protowire.Number = 1
	scipOccurrenceSymbol protowire.Number = 2

	scipSymbolInfoSymbol        protowire.Number = 1
	scipSymbolInfoDocumentation protowire.Number = 3
	scipSymbolInfoDisplayName   protowire.Number = 6
)

// ErrMalformedIndex is returned when a compiled index cannot be decoded.
var ErrMalformedIndex = errors.New("malformed compiled index")

// errInvalidOccurrence marks a well-formed occurrence with an unusable range.
// It is skipped with a warning.
var errInvalidOccurrence = errors.New("invalid occurrence")

// SCIPExtractor reads a SCIP compiled index and emits one symbol per
// documented symbol, located at its first occurrence in that document.
type SCIPExtractor struct{}

// NewSCIPExtractor creates a compiled-index extractor.
func NewSCIPExtractor() *SCIPExtractor {
	return &SCIPExtractor{}
}

type scipOccurrence struct {
	symbol    string
	startLine int
}

type scipSymbolInfo struct {
	symbol        string
	displayName   string
	documentation []string
}

type scipDocument struct {
	relativePath string
	occurrences  []scipOccurrence
	symbols      []scipSymbolInfo
	warnings     []string
}

func (s *SCIPExtractor) Extract(ctx context.Context, path string, src []byte) (catalog.Extraction, error) {
	ex := catalog.Extraction{Metadata: map[string]string{}}

	b := src
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return catalog.Extraction{}, indexError(path, n)
		}
		b = b[n:]
		switch {
		case num == scipIndexMetadata && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return catalog.Extraction{}, indexError(path, n)
			}
			if err := decodeSCIPMetadata(v, ex.Metadata); err != nil {
				return catalog.Extraction{}, fmt.Errorf("%w: %s: %w", ErrMalformedIndex, path, err)
			}
			b = b[n:]

		case num == scipIndexDocuments && typ == protowire.BytesType:
			if err := ctx.Err(); err != nil {
				return catalog.Extraction{}, err
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return catalog.Extraction{}, indexError(path, n)
			}
			doc, err := decodeSCIPDocument(v)
			if err != nil {
				return catalog.Extraction{}, fmt.Errorf("%w: %s: %w", ErrMalformedIndex, path, err)
			}
			s.collect(doc, &ex)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return catalog.Extraction{}, indexError(path, n)
			}
			b = b[n:]
		}
	}
	return ex, nil
}

func (s *SCIPExtractor) collect(doc scipDocument, ex *catalog.Extraction) {
	for _, w := range doc.warnings {
		ex.Warn(w)
	}
	first := make(map[string]scipOccurrence, len(doc.occurrences))
	for _, occ := range doc.occurrences {
		if _, ok := first[occ.symbol]; !ok {
			first[occ.symbol] = occ
		}
	}

	for _, info := range doc.symbols {
		if strings.HasPrefix(info.symbol, "local ") {
			continue
		}
		occ, ok := first[info.symbol]
		if !ok {
			ex.Warn(fmt.Sprintf("%s: symbol %q has no occurrence", doc.relativePath, info.symbol))
			continue
		}
		name, kind := parseSCIPSymbol(info.symbol)
		if info.displayName != "" {
			name = info.displayName
		}
		if name == "" {
			ex.Warn(fmt.Sprintf("%s: cannot derive a name from %q", doc.relativePath, info.symbol))
			continue
		}
		ex.Symbols = append(ex.Symbols, newSymbol(
			catalog.SourceCompiledIndex,
			name,
			kind,
			doc.relativePath,
			occ.startLine+1,
			strings.Join(info.documentation, "\n"),
		))
	}
}

// parseSCIPSymbol derives the display name and kind from the last descriptor
// of a SCIP symbol string, e.g. "scip-python python pkg 1.0 mod/Foo#bar()."
func parseSCIPSymbol(symbol string) (string, catalog.Kind) {
	parts := strings.Fields(symbol)
	if len(parts) == 0 {
		return "", catalog.KindUnknown
	}
	// scheme, manager, package name and version precede the descriptors.
	desc := parts[len(parts)-1]
	if len(parts) >= 5 {
		desc = strings.Join(parts[4:], " ")
	}
	if desc == "" {
		return "", catalog.KindUnknown
	}

	kind := catalog.KindUnknown
	switch {
	case strings.HasSuffix(desc, ")."):
		desc = strings.TrimSuffix(desc, ".")
		if i := strings.LastIndex(desc, "("); i >= 0 {
			desc = desc[:i]
		}
		kind = catalog.KindFunction
		if i := strings.LastIndexAny(desc, "#./"); i >= 0 && desc[i] == '#' {
			kind = catalog.KindMethod
		}
	case strings.HasSuffix(desc, "#"):
		desc = strings.TrimSuffix(desc, "#")
		kind = catalog.KindClass
	case strings.HasSuffix(desc, "."):
		desc = strings.TrimSuffix(desc, ".")
		kind = catalog.KindVariable
	case strings.HasSuffix(desc, "/"), strings.HasSuffix(desc, ":"), strings.HasSuffix(desc, "!"):
		desc = desc[:len(desc)-1]
	}

	if i := strings.LastIndexAny(desc, "#./"); i >= 0 {
		desc = desc[i+1:]
	}
	return strings.Trim(desc, "`"), kind
}

func decodeSCIPMetadata(b []byte, out map[string]string) error {
	return eachField(b, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case scipMetadataProjectRoot:
			out["project_root"] = string(v)
		case scipMetadataToolInfo:
			return eachField(v, func(num protowire.Number, _ protowire.Type, v []byte) error {
				switch num {
				case scipToolInfoName:
					out["tool_name"] = string(v)
				case scipToolInfoVersion:
					out["tool_version"] = string(v)
				}
				return nil
			})
		}
		return nil
	})
}

func decodeSCIPDocument(b []byte) (scipDocument, error) {
	var doc scipDocument
	err := eachField(b, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case scipDocumentRelativePath:
			doc.relativePath = string(v)
		case scipDocumentOccurrences:
			occ, err := decodeSCIPOccurrence(v)
			if errors.Is(err, errInvalidOccurrence) {
				doc.warnings = append(doc.warnings, err.Error())
				return nil
			}
			if err != nil {
				return err
			}
			doc.occurrences = append(doc.occurrences, occ)
		case scipDocumentSymbols:
			info, err := decodeSCIPSymbolInfo(v)
			if err != nil {
				return err
			}
			doc.symbols = append(doc.symbols, info)
		}
		return nil
	})
	return doc, err
}

func decodeSCIPOccurrence(b []byte) (scipOccurrence, error) {
	var occ scipOccurrence
	var rng []int64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return occ, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == scipOccurrenceRange && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return occ, protowire.ParseError(n)
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return occ, protowire.ParseError(m)
				}
				rng = append(rng, int64(int32(v)))
				packed = packed[m:]
			}
			b = b[n:]
		case num == scipOccurrenceRange && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return occ, protowire.ParseError(n)
			}
			rng = append(rng, int64(int32(v)))
			b = b[n:]
		case num == scipOccurrenceSymbol && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return occ, protowire.ParseError(n)
			}
			occ.symbol = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return occ, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	// Ranges are [startLine, startChar, endChar] or [startLine, startChar, endLine, endChar].
	if len(rng) != 3 && len(rng) != 4 {
		return occ, fmt.Errorf("%w of %q: range has %d elements", errInvalidOccurrence, occ.symbol, len(rng))
	}
	if rng[0] < 0 {
		return occ, fmt.Errorf("%w of %q: negative start line", errInvalidOccurrence, occ.symbol)
	}
	occ.startLine = int(rng[0])
	return occ, nil
}

func decodeSCIPSymbolInfo(b []byte) (scipSymbolInfo, error) {
	var info scipSymbolInfo
	err := eachField(b, func(num protowire.Number, _ protowire.Type, v []byte) error {
		switch num {
		case scipSymbolInfoSymbol:
			info.symbol = string(v)
		case scipSymbolInfoDocumentation:
			info.documentation = append(info.documentation, string(v))
		case scipSymbolInfoDisplayName:
			info.displayName = string(v)
		}
		return nil
	})
	return info, err
}

// eachField calls fn for every length-delimited field in b and skips the rest.
func eachField(b []byte, fn func(protowire.Number, protowire.Type, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		if err := fn(num, typ, v); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func indexError(path string, n int) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedIndex, path, protowire.ParseError(n))
}
