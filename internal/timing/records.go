package timing

import "time"

// RawReport is a fetched report body before parsing.
type RawReport struct {
	URL         string
	Kind        ReportKind
	Importer    Importer
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// DriverName is a parsed driver identity as printed on a report. Parsers
// leave ExternalRef empty.
type DriverName struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	ExternalRef string `json:"externalRef,omitempty"`
}

// Driver converts the name to an unsaved Driver.
func (n DriverName) Driver() Driver {
	return Driver{FirstName: n.FirstName, LastName: n.LastName, ExternalRef: n.ExternalRef}
}

// DriverSlot is a driver in a numbered seat of a car (DRIVER_1 .. DRIVER_6).
type DriverSlot struct {
	Number int        `json:"number"`
	Name   DriverName `json:"name"`
}

// ResultRecord is one classified car from a results report.
type ResultRecord struct {
	Line         int          `json:"line"`
	CarNumber    string       `json:"carNumber"`
	Team         string       `json:"team,omitempty"`
	Class        string       `json:"class,omitempty"`
	Vehicle      string       `json:"vehicle,omitempty"`
	TireSupplier string       `json:"tireSupplier,omitempty"`
	Position     int          `json:"position"`
	Status       string       `json:"status,omitempty"`
	Drivers      []DriverSlot `json:"drivers"`
}

// LapRecord is one row of a timecard.
type LapRecord struct {
	Line            int      `json:"line"`
	CarNumber       string   `json:"carNumber"`
	DriverNumber    int      `json:"driverNumber"`
	LapNumber       int      `json:"lapNumber"`
	LapTimeMillis   int64    `json:"lapTimeMillis"`
	Flags           LapFlags `json:"flags"`
	Sector1Millis   *int64   `json:"sector1Millis,omitempty"`
	Sector2Millis   *int64   `json:"sector2Millis,omitempty"`
	Sector3Millis   *int64   `json:"sector3Millis,omitempty"`
	ElapsedMillis   *int64   `json:"elapsedMillis,omitempty"`
	AverageSpeedKph *float64 `json:"averageSpeedKph,omitempty"`
	Hour            string   `json:"hour,omitempty"`
	Raw             []string `json:"-"`
}

// RowError is a row that could not be used. Err carries the error kind for
// errors.Is and is not serialised.
type RowError struct {
	Source string   `json:"source,omitempty"`
	Line   int      `json:"line"`
	Reason string   `json:"reason"`
	Data   []string `json:"data,omitempty"`
	Err    error    `json:"-"`
}

func (e RowError) Error() string {
	return e.Reason
}

func (e RowError) Unwrap() error {
	return e.Err
}

// RecordSet is the typed output of parsing one report.
type RecordSet struct {
	Kind     ReportKind
	Importer Importer
	Source   string
	Results  []ResultRecord
	Laps     []LapRecord
	Rejected []RowError
}

// Len returns the number of accepted records.
func (rs RecordSet) Len() int {
	return len(rs.Results) + len(rs.Laps)
}
