package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details for debugging (server-side)
//   - Returned to clients as user-friendly JSON with an action suggestion
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err), which derives the status from the error kind
//  3. Error is mapped via core.MapError to get user-friendly message
//  4. Technical error + context is logged with request ID for correlation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/laptiming/internal/core"
	"github.com/JonMunkholm/laptiming/internal/logging"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errBadBody     = fmt.Errorf("%w: invalid request body", timing.ErrInvalidArgument)
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
// Detail carries the validation failure for 4xx responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"`
	JobID   string `json:"jobId,omitempty"`
}

// statusFor derives the HTTP status from the error kind.
func statusFor(err error) int {
	switch {
	case errors.Is(err, timing.ErrInvalidArgument),
		errors.Is(err, timing.ErrReportFormatInvalid):
		return http.StatusBadRequest
	case errors.Is(err, timing.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, timing.ErrResourceExists):
		return http.StatusConflict
	case errors.Is(err, timing.ErrReferentialPrecondition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, timing.ErrReportUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, timing.ErrStoreUnavailable),
		errors.Is(err, core.ErrQueueFull),
		errors.Is(err, core.ErrTooManyChecks),
		errors.Is(err, core.ErrPoolClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes it as JSON with the status derived
// from its kind.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondStatus(w, r, statusFor(err), err)
}

func respondJobError(w http.ResponseWriter, r *http.Request, jobID string, err error) {
	writeErrorResponse(w, r, statusFor(err), err, jobID)
}

// respondStatus is respondError with an explicit status.
func respondStatus(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	writeErrorResponse(w, r, statusCode, err, "")
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, err error, jobID string) {
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if jobID != "" {
		attrs = append(attrs, "job_id", jobID)
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	resp := ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
		JobID:   jobID,
	}
	if statusCode < http.StatusInternalServerError {
		resp.Detail = err.Error()
	}
	if statusCode == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, statusCode, resp)
}

// writeJSON writes v as a JSON response body.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
