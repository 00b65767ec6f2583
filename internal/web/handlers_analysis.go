package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

// defaultPercentage is used when the request omits ?percentage.
const defaultPercentage = 20

// TopLapsResponse is returned by GET /drivers/{driverID}/top-laps.
type TopLapsResponse struct {
	DriverID   int64                 `json:"driverId"`
	Percentage float64               `json:"percentage"`
	Filter     timing.FilterCriteria `json:"filter"`
	Laps       []timing.LapTime      `json:"laps"`
}

// handleTopLaps returns the fastest percentage of a driver's valid laps.
func (s *Server) handleTopLaps(w http.ResponseWriter, r *http.Request) {
	driverID, err := idParam(r, "driverID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	pct, err := parsePercentage(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	laps, err := s.analyzer.TopLapTimes(r.Context(), driverID, pct, filter)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TopLapsResponse{
		DriverID:   driverID,
		Percentage: pct,
		Filter:     filter,
		Laps:       laps,
	})
}

// handleEventLapAnalysis summarises the valid laps of an event overall and
// per driver. ?offset and ?limit page the driver ranking.
func (s *Server) handleEventLapAnalysis(w http.ResponseWriter, r *http.Request) {
	eventID, err := idParam(r, "eventID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	pct, err := parsePercentage(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var f timing.EventLapFilter
	if f.ClassID, err = optionalInt64(r, "classId"); err != nil {
		respondError(w, r, err)
		return
	}
	if f.CarEntryID, err = optionalInt64(r, "carId"); err != nil {
		respondError(w, r, err)
		return
	}
	if f.SessionID, err = optionalInt64(r, "sessionId"); err != nil {
		respondError(w, r, err)
		return
	}

	analysis, err := s.analyzer.EventLapAnalysis(r.Context(), eventID, pct, f,
		parseIntParam(r, "offset", 0), parseIntParam(r, "limit", 0))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func parsePercentage(r *http.Request) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("percentage"))
	if raw == "" {
		return defaultPercentage, nil
	}
	pct, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: percentage must be a number, got %q", timing.ErrInvalidArgument, raw)
	}
	return pct, nil
}

func parseFilter(r *http.Request) (timing.FilterCriteria, error) {
	var (
		f   timing.FilterCriteria
		err error
	)
	if f.SeriesID, err = optionalInt64(r, "seriesId"); err != nil {
		return f, err
	}
	if f.Year, err = optionalInt(r, "year"); err != nil {
		return f, err
	}
	if f.EventID, err = optionalInt64(r, "eventId"); err != nil {
		return f, err
	}
	if f.SessionID, err = optionalInt64(r, "sessionId"); err != nil {
		return f, err
	}
	return f, nil
}
