// Package schema describes the column layouts of the timing reports the
// importer understands. Layouts are keyed by importer type and report kind
// and registered at init.
package schema

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

// FieldType is the expected data type of a report column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldInt
	FieldLapTime
	FieldDecimal
	FieldFlag
)

func (t FieldType) String() string {
	switch t {
	case FieldText:
		return "text"
	case FieldInt:
		return "integer"
	case FieldLapTime:
		return "lap time"
	case FieldDecimal:
		return "decimal"
	case FieldFlag:
		return "flag"
	default:
		return "value"
	}
}

// FieldSpec describes one report column.
type FieldSpec struct {
	Name     string    // Header as published
	Aliases  []string  // Alternative spellings seen in the wild
	Type     FieldType // Expected data type
	Required bool      // Header must be present
}

// Names returns Name followed by Aliases.
func (f FieldSpec) Names() []string {
	return append([]string{f.Name}, f.Aliases...)
}

// DriverStyle is how a results layout lays out the drivers of a car.
type DriverStyle int

const (
	// DriverNone means the layout has no driver columns.
	DriverNone DriverStyle = iota
	// DriverSingleColumn is one DRIVER_n column holding "First LAST".
	DriverSingleColumn
	// DriverSplitColumns is DRIVERn_FIRSTNAME plus DRIVERn_SECONDNAME.
	DriverSplitColumns
)

// MaxDrivers is the largest driver crew a results report lists per car.
const MaxDrivers = 6

// Layout is everything needed to read one kind of report from one publisher.
type Layout struct {
	Importer    timing.Importer
	Kind        timing.ReportKind
	Label       string
	Fields      []FieldSpec
	DriverStyle DriverStyle
}

// Key is the registry key for the layout.
func (l Layout) Key() string {
	return layoutKey(l.Importer, l.Kind)
}

func layoutKey(importer timing.Importer, kind timing.ReportKind) string {
	return strings.ToLower(string(importer)) + "_" + string(kind)
}

// Field returns the spec for the named column.
func (l Layout) Field(name string) (FieldSpec, bool) {
	for _, f := range l.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Required returns the specs of columns that must appear in the header.
func (l Layout) Required() []FieldSpec {
	var out []FieldSpec
	for _, f := range l.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// DriverColumns returns the header names holding the driver in seat n
// (1-based). For split layouts the first name column comes first.
func (l Layout) DriverColumns(n int) []string {
	switch l.DriverStyle {
	case DriverSingleColumn:
		return []string{fmt.Sprintf("DRIVER_%d", n)}
	case DriverSplitColumns:
		return []string{
			fmt.Sprintf("DRIVER%d_FIRSTNAME", n),
			fmt.Sprintf("DRIVER%d_SECONDNAME", n),
		}
	default:
		return nil
	}
}
