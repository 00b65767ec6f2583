package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/laptiming/internal/core"
	"github.com/JonMunkholm/laptiming/internal/logging"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

// SubmitResponse is returned by POST /imports.
type SubmitResponse struct {
	JobID string          `json:"jobId"`
	State timing.JobState `json:"state"`
}

// JobResponse is an import job with its run time.
type JobResponse struct {
	timing.ImportJob
	DurationMs int64 `json:"durationMs"`
}

func newJobResponse(job timing.ImportJob) JobResponse {
	return JobResponse{ImportJob: job, DurationMs: job.Duration().Milliseconds()}
}

// handleSubmitImport queues an asynchronous import and returns its job id.
func (s *Server) handleSubmitImport(w http.ResponseWriter, r *http.Request) {
	var req timing.ImportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	job, err := s.service.SubmitImport(r.Context(), req)
	if err != nil {
		// A job row exists once the queue rejected it; report its id so the
		// client can see the recorded failure.
		if job.ID != "" && errors.Is(err, core.ErrQueueFull) {
			respondJobError(w, r, job.ID, err)
			return
		}
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: job.ID, State: job.State})
}

// handleListImports returns the most recent jobs, newest first.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", s.cfg.Import.JobListLimit)
	if limit > s.cfg.Import.JobListLimit {
		limit = s.cfg.Import.JobListLimit
	}

	jobs, err := s.service.Jobs().List(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, newJobResponse(job))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetImport returns one job, or 404 for an unknown id.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	job, ok, err := s.service.Jobs().Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !ok {
		respondError(w, r, fmt.Errorf("%w: job %s", timing.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

// handleResultsCheck runs a results import synchronously and returns the
// reconcile report. No job is recorded.
func (s *Server) handleResultsCheck(w http.ResponseWriter, r *http.Request) {
	s.handleCheck(w, r, s.service.CheckResults)
}

// handleTimecardCheck is handleResultsCheck for timecard reports.
func (s *Server) handleTimecardCheck(w http.ResponseWriter, r *http.Request) {
	s.handleCheck(w, r, s.service.CheckTimecard)
}

type checkFunc func(ctx context.Context, req timing.ImportRequest) (core.ReconcileReport, error)

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request, check checkFunc) {
	var req timing.ImportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	report, err := check(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Debug("check served",
		"source_url", req.SourceURL,
		"created", len(report.Created),
		"errors", len(report.Errors),
	)
	writeJSON(w, http.StatusOK, report)
}
