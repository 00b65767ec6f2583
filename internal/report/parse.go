// Package report turns fetched timing reports into typed record sets.
//
// Parsing is pure: the same body always yields the same RecordSet. Rows that
// cannot be read are collected in RecordSet.Rejected with their line number
// instead of failing the whole report; only a report without a recognisable
// header or without any usable row is an error.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/JonMunkholm/laptiming/internal/schema"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

// Parse reads raw using the layout registered for its importer and kind.
func Parse(raw timing.RawReport) (timing.RecordSet, error) {
	return ParseWith(schema.Default, raw)
}

// ParseWith is Parse against an explicit layout registry.
func ParseWith(reg *schema.Registry, raw timing.RawReport) (timing.RecordSet, error) {
	layout, rows, hdr, err := locateHeader(reg, raw)
	if err != nil {
		return timing.RecordSet{}, err
	}
	idx := schema.MakeHeaderIndex(rows[hdr].fields)

	rs := timing.RecordSet{Kind: raw.Kind, Importer: raw.Importer, Source: raw.URL}
	p := rowParser{layout: layout, idx: idx}

	for _, r := range rows[hdr+1:] {
		if isEmptyRow(r.fields) {
			continue
		}

		var rowErr error
		switch raw.Kind {
		case timing.KindResults:
			var rec timing.ResultRecord
			if rec, rowErr = p.result(r); rowErr == nil {
				rs.Results = append(rs.Results, rec)
			}
		case timing.KindTimecard:
			var rec timing.LapRecord
			if rec, rowErr = p.lap(r); rowErr == nil {
				rs.Laps = append(rs.Laps, rec)
			}
		}

		if rowErr != nil {
			rs.Rejected = append(rs.Rejected, timing.RowError{
				Source: raw.URL,
				Line:   r.line,
				Reason: rowErr.Error(),
				Data:   r.fields,
				Err:    timing.ErrReportFormatInvalid,
			})
		}
	}

	if rs.Len() == 0 {
		return rs, fmt.Errorf("%w: %s report has no usable rows (%d rejected)",
			timing.ErrReportFormatInvalid, layout.Label, len(rs.Rejected))
	}
	return rs, nil
}

// CheckHeader verifies that raw carries a header row with every required
// column of its layout, without reading the data rows.
func CheckHeader(raw timing.RawReport) error {
	_, _, _, err := locateHeader(schema.Default, raw)
	return err
}

func locateHeader(reg *schema.Registry, raw timing.RawReport) (schema.Layout, []row, int, error) {
	layout, err := reg.Lookup(raw.Importer, raw.Kind)
	if err != nil {
		return layout, nil, -1, err
	}

	rows, err := readRows(raw.Body)
	if err != nil {
		return layout, nil, -1, err
	}

	records := lo.Map(rows, func(r row, _ int) []string { return r.fields })
	hdr := schema.FindHeader(records, layout)
	if hdr >= 0 {
		return layout, rows, hdr, nil
	}

	if len(rows) > 0 {
		// Report the missing columns against the first row.
		if _, err := schema.ValidateHeaders(rows[0].fields, layout); err != nil {
			return layout, nil, -1, err
		}
	}
	return layout, nil, -1, fmt.Errorf("%w: no %s header in the first %d rows",
		timing.ErrReportFormatInvalid, layout.Label, schema.MaxHeaderSearchRows)
}

type rowParser struct {
	layout schema.Layout
	idx    schema.HeaderIndex
}

func (p rowParser) value(r row, column string) string {
	if spec, ok := p.layout.Field(column); ok {
		return p.idx.Field(r.fields, spec)
	}
	return p.idx.Value(r.fields, column)
}

func (p rowParser) result(r row) (timing.ResultRecord, error) {
	rec := timing.ResultRecord{
		Line:         r.line,
		CarNumber:    p.value(r, schema.ColNumber),
		Team:         p.value(r, schema.ColTeam),
		Class:        p.value(r, schema.ColClass),
		Vehicle:      p.value(r, schema.ColVehicle),
		TireSupplier: p.value(r, schema.ColTyres),
		Status:       p.value(r, schema.ColStatus),
	}
	if rec.TireSupplier == "" {
		rec.TireSupplier = p.value(r, schema.ColTires)
	}
	if rec.CarNumber == "" {
		return rec, fmt.Errorf("empty %s", schema.ColNumber)
	}

	// Unclassified cars print a status such as "DNF" in the position column.
	pos := p.value(r, schema.ColPosition)
	if n, err := strconv.Atoi(pos); err == nil && n > 0 {
		rec.Position = n
	} else if rec.Status == "" {
		rec.Status = pos
	}

	for n := 1; n <= schema.MaxDrivers; n++ {
		cols := p.layout.DriverColumns(n)
		var name timing.DriverName
		switch p.layout.DriverStyle {
		case schema.DriverSingleColumn:
			cell := p.idx.Value(r.fields, cols[0])
			if cell == "" {
				continue
			}
			name = ParseWECName(cell)
		case schema.DriverSplitColumns:
			first := p.idx.Value(r.fields, cols[0])
			last := p.idx.Value(r.fields, cols[1])
			if first == "" || last == "" {
				continue
			}
			name = SplitName(first, last)
		}
		if name.FirstName == "" && name.LastName == "" {
			continue
		}
		rec.Drivers = append(rec.Drivers, timing.DriverSlot{Number: n, Name: name})
	}

	if len(rec.Drivers) == 0 {
		return rec, fmt.Errorf("car %s lists no drivers", rec.CarNumber)
	}
	return rec, nil
}

func (p rowParser) lap(r row) (timing.LapRecord, error) {
	rec := timing.LapRecord{
		Line:      r.line,
		CarNumber: p.value(r, schema.ColNumber),
		Hour:      p.value(r, schema.ColHour),
		Raw:       r.fields,
	}
	if rec.CarNumber == "" {
		return rec, fmt.Errorf("empty %s", schema.ColNumber)
	}

	dn, err := strconv.Atoi(p.value(r, schema.ColDriverNumber))
	if err != nil || dn < 1 || dn > schema.MaxDrivers {
		return rec, fmt.Errorf("invalid %s %q", schema.ColDriverNumber, p.value(r, schema.ColDriverNumber))
	}
	rec.DriverNumber = dn

	ln, err := strconv.Atoi(p.value(r, schema.ColLapNumber))
	if err != nil || ln < 1 {
		return rec, fmt.Errorf("invalid %s %q", schema.ColLapNumber, p.value(r, schema.ColLapNumber))
	}
	rec.LapNumber = ln

	if ms, ok := ParseLapTime(p.value(r, schema.ColLapTime)); ok {
		rec.LapTimeMillis = ms
	} else {
		rec.Flags |= timing.LapInvalid
	}

	if strings.EqualFold(p.value(r, schema.ColPitIn), "B") {
		rec.Flags |= timing.LapPitIn
	}

	rec.Sector1Millis = ParseSector(p.value(r, schema.ColS1))
	rec.Sector2Millis = ParseSector(p.value(r, schema.ColS2))
	rec.Sector3Millis = ParseSector(p.value(r, schema.ColS3))
	rec.ElapsedMillis = ParseElapsed(p.value(r, schema.ColElapsed))
	rec.AverageSpeedKph = ParseSpeed(p.value(r, schema.ColKPH))

	return rec, nil
}
