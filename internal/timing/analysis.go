package timing

import "fmt"

// UnknownTeam is reported for laps whose car has no team.
const UnknownTeam = "Unknown Team"

// FilterCriteria narrows the laps considered by analysis. Nil fields do not
// filter; set fields are AND-composed.
type FilterCriteria struct {
	SeriesID  *int64 `json:"seriesId,omitempty"`
	Year      *int   `json:"year,omitempty"`
	EventID   *int64 `json:"eventId,omitempty"`
	SessionID *int64 `json:"sessionId,omitempty"`
}

// Matches reports whether a lap in the given context passes the filter.
func (f FilterCriteria) Matches(dl DriverLap) bool {
	if f.SeriesID != nil && *f.SeriesID != dl.SeriesID {
		return false
	}
	if f.Year != nil && *f.Year != dl.Year {
		return false
	}
	if f.EventID != nil && *f.EventID != dl.EventID {
		return false
	}
	if f.SessionID != nil && *f.SessionID != dl.SessionID {
		return false
	}
	return true
}

// DriverLap is a lap joined with the session, event and car context it was
// driven in.
type DriverLap struct {
	Lap
	EventID     int64
	SeriesID    int64
	Year        int
	EventName   string
	SessionName string
	CarNumber   string
	TeamName    string
	DriverName  string
	ClassID     *int64
	ClassName   string
	CarModel    string
}

// EventLapFilter narrows an event lap analysis. Nil fields do not filter.
type EventLapFilter struct {
	ClassID    *int64 `json:"classId,omitempty"`
	CarEntryID *int64 `json:"carId,omitempty"`
	SessionID  *int64 `json:"sessionId,omitempty"`
}

// Matches reports whether dl passes the filter.
func (f EventLapFilter) Matches(dl DriverLap) bool {
	if f.ClassID != nil && (dl.ClassID == nil || *dl.ClassID != *f.ClassID) {
		return false
	}
	if f.CarEntryID != nil && *f.CarEntryID != dl.CarEntryID {
		return false
	}
	if f.SessionID != nil && *f.SessionID != dl.SessionID {
		return false
	}
	return true
}

// LapStats summarises a set of valid laps. Average covers only the fastest
// Percentage of them; Fastest and Median cover all. Times are zero, and
// render as "0:00.000", when TotalLapCount is 0.
type LapStats struct {
	AverageMillis  int64  `json:"averageLapTimeMillis"`
	AverageLapTime string `json:"averageLapTime"`
	FastestMillis  int64  `json:"fastestLapTimeMillis"`
	FastestLapTime string `json:"fastestLapTime"`
	MedianMillis   int64  `json:"medianLapTimeMillis"`
	MedianLapTime  string `json:"medianLapTime"`
	TotalLapCount  int    `json:"totalLapCount"`
	AveragedLaps   int    `json:"averagedLapCount"`
}

// NewLapStats fills in the rendered times.
func NewLapStats(average, fastest, median int64, total, averaged int) LapStats {
	return LapStats{
		AverageMillis:  average,
		AverageLapTime: FormatLapTime(average),
		FastestMillis:  fastest,
		FastestLapTime: FormatLapTime(fastest),
		MedianMillis:   median,
		MedianLapTime:  FormatLapTime(median),
		TotalLapCount:  total,
		AveragedLaps:   averaged,
	}
}

// DriverLapStats is one driver's share of an event analysis. The car, team
// and class are those of the driver's first lap in the filtered set.
type DriverLapStats struct {
	DriverID   int64  `json:"driverId"`
	DriverName string `json:"driverName"`
	CarEntryID int64  `json:"carId"`
	CarNumber  string `json:"carNumber"`
	CarModel   string `json:"carModel,omitempty"`
	TeamName   string `json:"teamName"`
	ClassID    *int64 `json:"classId,omitempty"`
	ClassName  string `json:"className,omitempty"`
	LapStats
}

// EventLapAnalysis is the lap-time analysis of one event.
type EventLapAnalysis struct {
	EventID     int64            `json:"eventId"`
	Percentage  float64          `json:"percentage"`
	Filter      EventLapFilter   `json:"filter"`
	Overall     LapStats         `json:"overall"`
	Drivers     []DriverLapStats `json:"drivers"`
	DriverCount int              `json:"driverCount"`
}

// LapTime is the analysis view of a lap.
type LapTime struct {
	LapID           int64    `json:"lapId"`
	LapNumber       int      `json:"lapNumber"`
	LapTimeMillis   int64    `json:"lapTimeMillis"`
	LapTime         string   `json:"lapTime"`
	AverageSpeedKph *float64 `json:"averageSpeedKph,omitempty"`
	SessionID       int64    `json:"sessionId"`
	EventID         int64    `json:"eventId"`
	SeriesID        int64    `json:"seriesId"`
	Year            int      `json:"year"`
	EventName       string   `json:"eventName"`
	SessionName     string   `json:"sessionName"`
	CarNumber       string   `json:"carNumber"`
	TeamName        string   `json:"teamName"`
	DriverName      string   `json:"driverName"`
}

// NewLapTime builds the analysis view of dl.
func NewLapTime(dl DriverLap) LapTime {
	team := dl.TeamName
	if team == "" {
		team = UnknownTeam
	}
	return LapTime{
		LapID:           dl.ID,
		LapNumber:       dl.LapNumber,
		LapTimeMillis:   dl.LapTimeMillis,
		LapTime:         FormatLapTime(dl.LapTimeMillis),
		AverageSpeedKph: dl.AverageSpeedKph,
		SessionID:       dl.SessionID,
		EventID:         dl.EventID,
		SeriesID:        dl.SeriesID,
		Year:            dl.Year,
		EventName:       dl.EventName,
		SessionName:     dl.SessionName,
		CarNumber:       dl.CarNumber,
		TeamName:        team,
		DriverName:      dl.DriverName,
	}
}

// FormatLapTime renders millis as "m:ss.SSS".
func FormatLapTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	millis := ms % 1000
	return fmt.Sprintf("%d:%02d.%03d", minutes, seconds, millis)
}
