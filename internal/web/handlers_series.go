package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/laptiming/internal/logging"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

// CreateSeriesRequest is the body of POST /series.
type CreateSeriesRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleListSeries(w http.ResponseWriter, r *http.Request) {
	series, err := s.store.ListSeries(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// handleCreateSeries registers a series. Imports never create series, so
// this is the only way one comes into existence.
func (s *Server) handleCreateSeries(w http.ResponseWriter, r *http.Request) {
	var req CreateSeriesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(w, r, fmt.Errorf("%w: series name is required", timing.ErrInvalidArgument))
		return
	}

	series, err := s.store.CreateSeries(r.Context(), timing.Series{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("series created", "series_id", series.ID, "name", series.Name)
	writeJSON(w, http.StatusCreated, series)
}

func (s *Server) handleSeriesYears(w http.ResponseWriter, r *http.Request) {
	seriesID, err := idParam(r, "seriesID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	years, err := s.store.ListSeriesYears(r.Context(), seriesID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, years)
}

func (s *Server) handleSeriesEvents(w http.ResponseWriter, r *http.Request) {
	seriesID, err := idParam(r, "seriesID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	year, err := idParam(r, "year")
	if err != nil {
		respondError(w, r, err)
		return
	}

	events, err := s.store.ListEvents(r.Context(), seriesID, int(year))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
