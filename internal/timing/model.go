// Package timing defines the relational timing model shared by the importer,
// the store and the analysis engine.
//
// The package has no dependencies on transport or persistence. Identifiers are
// database-assigned int64 values except for import jobs, which use UUID strings
// handed back to callers before any row is written.
package timing

import (
	"fmt"
	"strings"
	"time"
)

// SessionType classifies a session within an event.
type SessionType string

const (
	SessionPractice   SessionType = "practice"
	SessionQualifying SessionType = "qualifying"
	SessionRace       SessionType = "race"
)

// ParseSessionType accepts the common spellings used by timing sheets.
func ParseSessionType(s string) (SessionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "practice", "fp", "free practice", "test":
		return SessionPractice, nil
	case "qualifying", "quali", "q", "hyperpole":
		return SessionQualifying, nil
	case "race", "r":
		return SessionRace, nil
	}
	return "", fmt.Errorf("%w: unknown session type %q", ErrInvalidArgument, s)
}

// Series is the root grouping of events across years.
type Series struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Circuit is the venue an event runs at.
type Circuit struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Event belongs to exactly one series and is grouped by year.
type Event struct {
	ID        int64  `json:"id"`
	SeriesID  int64  `json:"seriesId"`
	Year      int    `json:"year"`
	Name      string `json:"name"`
	CircuitID *int64 `json:"circuitId,omitempty"`
}

// Session belongs to exactly one event.
type Session struct {
	ID       int64       `json:"id"`
	EventID  int64       `json:"eventId"`
	Type     SessionType `json:"type"`
	Name     string      `json:"name"`
	StartsAt *time.Time  `json:"startsAt,omitempty"`
}

// Driver is identified store-wide by (FirstName, LastName, ExternalRef),
// compared case-insensitively. The CSV layouts carry no stable driver id, so
// imported drivers have an empty ExternalRef and are keyed by name alone.
// Drivers registered from other sources may set it to keep namesakes apart.
type Driver struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	ExternalRef string `json:"externalRef,omitempty"`
}

// FullName returns "First Last", omitting empty parts.
func (d Driver) FullName() string {
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}

// NaturalKey returns the deduplication key for the driver.
func (d Driver) NaturalKey() string {
	return strings.ToLower(d.FirstName) + "|" + strings.ToLower(d.LastName) + "|" + strings.ToLower(d.ExternalRef)
}

// Team is a competitor organisation.
type Team struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CarClass is a series-scoped class such as "HYPERCAR" or "GTD".
type CarClass struct {
	ID       int64  `json:"id"`
	SeriesID int64  `json:"seriesId"`
	Name     string `json:"name"`
}

// CarModel is the vehicle as listed on the entry list.
type CarModel struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CarEntry is a car taking part in one session, keyed by (SessionID, Number).
type CarEntry struct {
	ID           int64  `json:"id"`
	SessionID    int64  `json:"sessionId"`
	Number       string `json:"number"`
	TeamID       *int64 `json:"teamId,omitempty"`
	ClassID      *int64 `json:"classId,omitempty"`
	CarModelID   *int64 `json:"carModelId,omitempty"`
	TireSupplier string `json:"tireSupplier,omitempty"`
}

// CarDriver links a driver to a car entry under the driver number used by
// timecards (1..6).
type CarDriver struct {
	CarEntryID   int64 `json:"carEntryId"`
	DriverID     int64 `json:"driverId"`
	DriverNumber int   `json:"driverNumber"`
}

// Result is one driver's classification in a session.
type Result struct {
	ID             int64  `json:"id"`
	SessionID      int64  `json:"sessionId"`
	DriverID       int64  `json:"driverId"`
	CarEntryID     *int64 `json:"carEntryId,omitempty"`
	FinishPosition int    `json:"finishPosition"`
	Status         string `json:"status,omitempty"`
}

// LapFlags tags laps that are stored but not usable for analysis.
type LapFlags uint8

const (
	// LapInvalid marks a lap with no usable time.
	LapInvalid LapFlags = 1 << iota
	// LapPitIn marks a lap that ended in the pit lane.
	LapPitIn
)

// Has reports whether all bits of flag are set.
func (f LapFlags) Has(flag LapFlags) bool {
	return f&flag == flag
}

func (f LapFlags) String() string {
	var parts []string
	if f.Has(LapInvalid) {
		parts = append(parts, "invalid")
	}
	if f.Has(LapPitIn) {
		parts = append(parts, "pit_in")
	}
	return strings.Join(parts, ",")
}

// Lap is the atomic timing unit.
type Lap struct {
	ID                   int64    `json:"id"`
	SessionID            int64    `json:"sessionId"`
	DriverID             int64    `json:"driverId"`
	CarEntryID           int64    `json:"carEntryId"`
	LapNumber            int      `json:"lapNumber"`
	LapTimeMillis        int64    `json:"lapTimeMillis"`
	Flags                LapFlags `json:"flags"`
	Sector1Millis        *int64   `json:"sector1Millis,omitempty"`
	Sector2Millis        *int64   `json:"sector2Millis,omitempty"`
	Sector3Millis        *int64   `json:"sector3Millis,omitempty"`
	SessionElapsedMillis *int64   `json:"sessionElapsedMillis,omitempty"`
	AverageSpeedKph      *float64 `json:"averageSpeedKph,omitempty"`
	Hour                 string   `json:"hour,omitempty"`
}

// Valid reports whether the lap takes part in analysis.
func (l Lap) Valid() bool {
	return l.LapTimeMillis > 0 && !l.Flags.Has(LapInvalid)
}

// Key returns the lap's deduplication key.
func (l Lap) Key() LapKey {
	return LapKey{SessionID: l.SessionID, DriverID: l.DriverID, LapNumber: l.LapNumber}
}

// LapKey identifies a lap independently of its generated id.
type LapKey struct {
	SessionID int64
	DriverID  int64
	LapNumber int
}
