package schema

import (
	"errors"
	"testing"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

func TestBuiltinLayouts(t *testing.T) {
	if got := Default.Len(); got != 4 {
		t.Fatalf("Default.Len() = %d, want 4", got)
	}

	tests := []struct {
		importer timing.Importer
		kind     timing.ReportKind
		style    DriverStyle
	}{
		{timing.ImporterWEC, timing.KindResults, DriverSingleColumn},
		{timing.ImporterIMSA, timing.KindResults, DriverSplitColumns},
		{timing.ImporterWEC, timing.KindTimecard, DriverNone},
		{timing.ImporterIMSA, timing.KindTimecard, DriverNone},
	}
	for _, tt := range tests {
		l, err := Lookup(tt.importer, tt.kind)
		if err != nil {
			t.Errorf("Lookup(%s, %s) error = %v", tt.importer, tt.kind, err)
			continue
		}
		if l.DriverStyle != tt.style {
			t.Errorf("%s DriverStyle = %v, want %v", l.Key(), l.DriverStyle, tt.style)
		}
	}
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup(timing.ImporterWEC, timing.KindResults)
	if !errors.Is(err, timing.ErrInvalidArgument) {
		t.Errorf("Lookup() error = %v, want ErrInvalidArgument", err)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	l := Layout{Importer: timing.ImporterWEC, Kind: timing.KindTimecard}
	r.Register(l)

	defer func() {
		if recover() == nil {
			t.Error("Register() of duplicate key did not panic")
		}
	}()
	r.Register(l)
}

func TestRegistry_AllSorted(t *testing.T) {
	all := Default.All()
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		if prev.Importer > cur.Importer || (prev.Importer == cur.Importer && prev.Kind > cur.Kind) {
			t.Errorf("All() not sorted at %d: %s before %s", i, prev.Key(), cur.Key())
		}
	}
}

func TestLayout_DriverColumns(t *testing.T) {
	wec, _ := Lookup(timing.ImporterWEC, timing.KindResults)
	imsa, _ := Lookup(timing.ImporterIMSA, timing.KindResults)
	tc, _ := Lookup(timing.ImporterWEC, timing.KindTimecard)

	if got := wec.DriverColumns(3); len(got) != 1 || got[0] != "DRIVER_3" {
		t.Errorf("WEC DriverColumns(3) = %v", got)
	}
	if got := imsa.DriverColumns(2); len(got) != 2 || got[0] != "DRIVER2_FIRSTNAME" || got[1] != "DRIVER2_SECONDNAME" {
		t.Errorf("IMSA DriverColumns(2) = %v", got)
	}
	if got := tc.DriverColumns(1); got != nil {
		t.Errorf("timecard DriverColumns(1) = %v, want nil", got)
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  NUMBER ", "NUMBER"},
		{"\ufeffNUMBER", "NUMBER"},
		{`="007"`, "007"},
		{`"Toyota Gazoo Racing"`, "Toyota Gazoo Racing"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanCell(tt.in); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateHeaders(t *testing.T) {
	wec, _ := Lookup(timing.ImporterWEC, timing.KindResults)

	header := []string{"POSITION", "NUMBER", "TEAM", "DRIVER_1", "DRIVER_2", "VEHICLE", "CLASS", "TYRES", "STATUS"}
	idx, err := ValidateHeaders(header, wec)
	if err != nil {
		t.Fatalf("ValidateHeaders() error = %v", err)
	}
	if idx["driver_2"] != 4 {
		t.Errorf("idx[driver_2] = %d, want 4", idx["driver_2"])
	}

	_, err = ValidateHeaders([]string{"POSITION", "NUMBER", "TEAM"}, wec)
	if !errors.Is(err, timing.ErrReportFormatInvalid) {
		t.Fatalf("ValidateHeaders() error = %v, want ErrReportFormatInvalid", err)
	}
}

func TestValidateHeaders_Aliases(t *testing.T) {
	imsa, _ := Lookup(timing.ImporterIMSA, timing.KindResults)
	header := []string{"POS", "NO", "TEAM", "DRIVER1_FIRSTNAME", "DRIVER1_SECONDNAME", "CLASS", "TYRES"}

	idx, err := ValidateHeaders(header, imsa)
	if err != nil {
		t.Fatalf("ValidateHeaders() error = %v", err)
	}

	tires, _ := imsa.Field(ColTires)
	row := []string{"1", "60", "Meyer Shank", "Tom", "Blomqvist", "GTP", "Michelin"}
	if got := idx.Field(row, tires); got != "Michelin" {
		t.Errorf("Field(TIRES) = %q, want Michelin via alias", got)
	}
}

func TestFindHeader(t *testing.T) {
	tc, _ := Lookup(timing.ImporterWEC, timing.KindTimecard)

	records := [][]string{
		{"FIA World Endurance Championship"},
		{"Race - Analysis"},
		{},
		{"NUMBER", "DRIVER_NUMBER", "LAP_NUMBER", "LAP_TIME", "S1"},
		{"7", "1", "1", "1:52.331", "35.1"},
	}
	if got := FindHeader(records, tc); got != 3 {
		t.Errorf("FindHeader() = %d, want 3", got)
	}

	deep := make([][]string, MaxHeaderSearchRows+1)
	deep[MaxHeaderSearchRows] = records[3]
	if got := FindHeader(deep, tc); got != -1 {
		t.Errorf("FindHeader() beyond search window = %d, want -1", got)
	}
}

func TestHeaderIndex_ShortRow(t *testing.T) {
	idx := MakeHeaderIndex([]string{"NUMBER", "TEAM", "CLASS"})
	if got := idx.Value([]string{"7"}, "CLASS"); got != "" {
		t.Errorf("Value() on short row = %q, want empty", got)
	}
	if got := idx.Value([]string{"7", "Toyota"}, "MISSING", "TEAM"); got != "Toyota" {
		t.Errorf("Value() fallback = %q, want Toyota", got)
	}
}
