package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

// delimiterSampleLines is how many leading lines vote on the delimiter.
const delimiterSampleLines = 20

// row is a CSV record with the 1-based line it started on.
type row struct {
	line   int
	fields []string
}

// DetectDelimiter picks ';' or ',' by counting both over the first lines
// of data. Semicolon wins ties because published timing sheets use it.
func DetectDelimiter(data []byte) rune {
	var semi, comma int
	lines := bytes.SplitN(data, []byte("\n"), delimiterSampleLines+1)
	for _, l := range lines[:min(len(lines), delimiterSampleLines)] {
		semi += bytes.Count(l, []byte(";"))
		comma += bytes.Count(l, []byte(","))
	}
	if comma > semi {
		return ','
	}
	return ';'
}

// readRows parses data as delimited text. Records may have differing field
// counts and stray quotes are tolerated.
func readRows(data []byte) ([]row, error) {
	r := csv.NewReader(bytes.NewReader(sanitizeUTF8(data)))
	r.Comma = DetectDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows []row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", timing.ErrReportFormatInvalid, err)
		}
		line, _ := r.FieldPos(0)
		rows = append(rows, row{line: line, fields: rec})
	}
	return rows, nil
}

func sanitizeUTF8(data []byte) []byte {
	return bytes.ToValidUTF8(data, []byte("\uFFFD"))
}

func isEmptyRow(fields []string) bool {
	return lo.EveryBy(fields, func(f string) bool {
		return strings.TrimSpace(f) == ""
	})
}
