package schema

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

// MaxHeaderSearchRows bounds how far into a report the header row may sit.
// Published sheets often carry a title block above the table.
const MaxHeaderSearchRows = 20

// HeaderIndex maps lowercased column names to their position in a row.
type HeaderIndex map[string]int

// MakeHeaderIndex indexes a header row. The first occurrence of a repeated
// column wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if key == "" {
			continue
		}
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// Has reports whether any of names is a column.
func (h HeaderIndex) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := h[strings.ToLower(n)]; ok {
			return true
		}
	}
	return false
}

// Value returns the cleaned cell of the first of names present in the
// header, or "" when none is.
func (h HeaderIndex) Value(row []string, names ...string) string {
	for _, n := range names {
		pos, ok := h[strings.ToLower(n)]
		if !ok {
			continue
		}
		if pos < len(row) {
			return CleanCell(row[pos])
		}
		return ""
	}
	return ""
}

// Field returns the cell for spec, honouring its aliases.
func (h HeaderIndex) Field(row []string, spec FieldSpec) string {
	return h.Value(row, spec.Names()...)
}

// CleanCell trims whitespace, a UTF-8 byte order mark, an Excel formula
// prefix (="...") and surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// ValidateHeaders checks that every required column of l is present.
func ValidateHeaders(header []string, l Layout) (HeaderIndex, error) {
	idx := MakeHeaderIndex(header)

	var missing []string
	for _, spec := range l.Required() {
		if !idx.Has(spec.Names()...) {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s report is missing required columns: %s",
			timing.ErrReportFormatInvalid, l.Label, strings.Join(missing, ", "))
	}
	return idx, nil
}

// FindHeader returns the position of the first row within
// MaxHeaderSearchRows that carries every required column of l, or -1.
func FindHeader(records [][]string, l Layout) int {
	limit := min(len(records), MaxHeaderSearchRows)
	for i := 0; i < limit; i++ {
		if _, err := ValidateHeaders(records[i], l); err == nil {
			return i
		}
	}
	return -1
}
