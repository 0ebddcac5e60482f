package fingerprint

import (
	"math"
	"strconv"
	"strings"

	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
	"github.com/yairfalse/rankwatch/pkg/types"
)

// KeySeparator joins identity field values into an entry key. Separators
// and backslashes inside a value are escaped with a backslash.
const KeySeparator = "|"

var keyEscaper = strings.NewReplacer(`\`, `\\`, KeySeparator, `\`+KeySeparator)

// Normalize maps a raw table onto typed entries for the source.
// Fully blank rows are ignored; any other malformed row fails the table.
func Normalize(src *types.Source, raw *types.RawTable) ([]types.Entry, error) {
	if raw.IsEmpty() {
		return nil, rwerrors.SchemaMismatch(src.ID, "table has no rows")
	}

	cols, err := resolveColumns(src, raw.Headers)
	if err != nil {
		return nil, err
	}

	entries := make([]types.Entry, 0, len(raw.Rows))
	seen := make(map[string]int, len(raw.Rows))

	for i, row := range raw.Rows {
		if blankRow(row) {
			continue
		}
		line := i + 1

		attrs := make(map[string]string, len(cols.fields))
		for field, idx := range cols.fields {
			if field == types.FieldRank || field == types.FieldPoints {
				continue
			}
			attrs[field] = cell(row, idx)
		}

		parts := make([]string, 0, len(src.IdentityFields))
		for _, f := range src.IdentityFields {
			v := cell(row, cols.fields[f])
			if v == "" {
				return nil, rwerrors.SchemaMismatch(src.ID, "row %d: missing identity field %q", line, f)
			}
			parts = append(parts, keyEscaper.Replace(v))
		}
		key := strings.Join(parts, KeySeparator)

		if prev, dup := seen[key]; dup {
			return nil, rwerrors.SchemaMismatch(src.ID, "row %d: duplicate identity %q (first seen on row %d)", line, key, prev)
		}
		seen[key] = line

		rank, err := parseRank(cell(row, cols.fields[types.FieldRank]))
		if err != nil {
			return nil, rwerrors.SchemaMismatch(src.ID, "row %d: %v", line, err)
		}

		points := 0.0
		if idx, ok := cols.fields[types.FieldPoints]; ok {
			points, err = ParsePoints(cell(row, idx))
			if err != nil {
				return nil, rwerrors.SchemaMismatch(src.ID, "row %d: %v", line, err)
			}
		}

		entries = append(entries, types.Entry{
			Key:        key,
			Rank:       rank,
			Points:     points,
			Attributes: attrs,
		})
	}

	if len(entries) == 0 {
		return nil, rwerrors.SchemaMismatch(src.ID, "table has no non-blank rows")
	}
	return entries, nil
}

type columnMap struct {
	// logical field -> column index
	fields map[string]int
}

// resolveColumns locates every required logical field in the headers.
// rank and identity fields must be present; points and other tracked fields
// must be present when tracked. Unmapped headers are carried under their
// normalized header name.
func resolveColumns(src *types.Source, headers []string) (*columnMap, error) {
	byHeader := make(map[string]int, len(headers))
	for i, h := range headers {
		n := normalizeHeader(h)
		if n == "" {
			continue
		}
		if _, dup := byHeader[n]; !dup {
			byHeader[n] = i
		}
	}

	cm := &columnMap{fields: make(map[string]int)}
	claimed := make(map[int]bool)

	lookup := func(field string) (int, bool) {
		idx, ok := byHeader[normalizeHeader(src.HeaderFor(field))]
		return idx, ok
	}

	required := append([]string{types.FieldRank}, src.IdentityFields...)
	required = append(required, src.Tracked()...)
	for _, f := range required {
		if _, done := cm.fields[f]; done {
			continue
		}
		idx, ok := lookup(f)
		if !ok {
			return nil, rwerrors.SchemaMismatch(src.ID, "column for field %q (header %q) not found", f, src.HeaderFor(f))
		}
		cm.fields[f] = idx
		claimed[idx] = true
	}

	for logical := range src.Columns {
		if _, done := cm.fields[logical]; done {
			continue
		}
		if idx, ok := lookup(logical); ok {
			cm.fields[logical] = idx
			claimed[idx] = true
		}
	}

	for i, h := range headers {
		n := normalizeHeader(h)
		if n == "" || claimed[i] {
			continue
		}
		if _, taken := cm.fields[n]; taken {
			continue
		}
		cm.fields[n] = i
	}

	return cm, nil
}

// normalizeHeader lower-cases and collapses all whitespace
func normalizeHeader(h string) string {
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseRank(s string) (int, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), ".")
	if s == "" {
		return 0, rankError(s)
	}
	r, err := strconv.Atoi(s)
	if err != nil || r <= 0 {
		return 0, rankError(s)
	}
	return r, nil
}

type rankError string

func (e rankError) Error() string {
	return "invalid rank " + strconv.Quote(string(e))
}

// ParsePoints parses a points cell. Thousands separators are accepted and
// a blank cell is zero.
func ParsePoints(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	clean := strings.ReplaceAll(s, ",", "")
	clean = strings.ReplaceAll(clean, " ", "")
	p, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, &pointsError{value: s}
	}
	return p, nil
}

type pointsError struct{ value string }

func (e *pointsError) Error() string {
	return "invalid points " + strconv.Quote(e.value)
}
