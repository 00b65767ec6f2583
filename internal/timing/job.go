package timing

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// JobState is the lifecycle state of an import job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobStarted   JobState = "started"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// AllJobStates lists states in lifecycle order.
var AllJobStates = []JobState{JobPending, JobStarted, JobCompleted, JobFailed}

// Terminal reports whether no further transition is allowed.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo encodes the lifecycle graph:
//
//	pending -> started -> completed
//	pending -> failed
//	started -> failed
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case JobPending:
		return next == JobStarted || next == JobFailed
	case JobStarted:
		return next == JobCompleted || next == JobFailed
	}
	return false
}

// ReportKind selects which report layout a source URL is expected to carry.
type ReportKind string

const (
	KindResults  ReportKind = "results"
	KindTimecard ReportKind = "timecard"
)

// ParseReportKind is case-insensitive.
func ParseReportKind(s string) (ReportKind, error) {
	switch ReportKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindResults:
		return KindResults, nil
	case KindTimecard:
		return KindTimecard, nil
	}
	return "", fmt.Errorf("%w: unknown report kind %q", ErrInvalidArgument, s)
}

// Importer names the publisher whose layout a report follows.
type Importer string

const (
	ImporterWEC  Importer = "WEC"
	ImporterIMSA Importer = "IMSA"
)

// ParseImporter is case-insensitive.
func ParseImporter(s string) (Importer, error) {
	switch Importer(strings.ToUpper(strings.TrimSpace(s))) {
	case ImporterWEC:
		return ImporterWEC, nil
	case ImporterIMSA:
		return ImporterIMSA, nil
	}
	return "", fmt.Errorf("%w: unknown importer type %q", ErrInvalidArgument, s)
}

// ImportRequest describes one import. A session is addressed either by
// SessionID or by the series/event/session metadata; results imports create
// the event and session when they do not exist yet.
type ImportRequest struct {
	SourceURL   string      `json:"sourceUrl"`
	Kind        ReportKind  `json:"reportKind"`
	Importer    Importer    `json:"importerType"`
	TimecardURL string      `json:"timecardUrl,omitempty"`
	SessionID   *int64      `json:"sessionId,omitempty"`
	SeriesID    *int64      `json:"seriesId,omitempty"`
	EventName   string      `json:"eventName,omitempty"`
	Year        int         `json:"year,omitempty"`
	CircuitName string      `json:"circuitName,omitempty"`
	SessionName string      `json:"sessionName,omitempty"`
	SessionType SessionType `json:"sessionType,omitempty"`
}

// Validate normalises enum fields in place and checks required fields.
func (r *ImportRequest) Validate() error {
	if err := validateSourceURL(r.SourceURL); err != nil {
		return err
	}

	kind, err := ParseReportKind(string(r.Kind))
	if err != nil {
		return err
	}
	r.Kind = kind

	importer, err := ParseImporter(string(r.Importer))
	if err != nil {
		return err
	}
	r.Importer = importer

	if r.TimecardURL != "" {
		if r.Kind != KindResults {
			return fmt.Errorf("%w: timecardUrl is only accepted with a results import", ErrInvalidArgument)
		}
		if err := validateSourceURL(r.TimecardURL); err != nil {
			return err
		}
	}

	if r.SessionID != nil {
		if *r.SessionID <= 0 {
			return fmt.Errorf("%w: sessionId must be positive", ErrInvalidArgument)
		}
		return nil
	}

	if r.SeriesID == nil || strings.TrimSpace(r.EventName) == "" || r.Year <= 0 || strings.TrimSpace(r.SessionName) == "" {
		return fmt.Errorf("%w: sessionId or seriesId, eventName, year and sessionName are required", ErrInvalidArgument)
	}
	if r.SessionType == "" {
		r.SessionType = SessionRace
	} else {
		st, err := ParseSessionType(string(r.SessionType))
		if err != nil {
			return err
		}
		r.SessionType = st
	}
	return nil
}

func validateSourceURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: sourceUrl is required", ErrInvalidArgument)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidArgument, raw)
	}
	return nil
}

// ImportSummary counts what an import did.
type ImportSummary struct {
	Created      int `json:"created"`
	Existing     int `json:"alreadyExisting"`
	Rejected     int `json:"rejected"`
	LapsInserted int `json:"lapsInserted"`
	LapsSkipped  int `json:"lapsSkipped"`
}

// ImportJob tracks one asynchronous import. Rows are never deleted and
// completed/failed are terminal.
type ImportJob struct {
	ID          string        `json:"id"`
	SourceURL   string        `json:"sourceUrl"`
	Kind        ReportKind    `json:"reportKind"`
	Importer    Importer      `json:"importerType"`
	State       JobState      `json:"state"`
	Error       *string       `json:"error"`
	Retryable   bool          `json:"retryable"`
	Summary     ImportSummary `json:"summary"`
	Request     ImportRequest `json:"request"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// ErrorMessage is the failure reason, or "" unless the job failed.
func (j ImportJob) ErrorMessage() string {
	if j.Error == nil {
		return ""
	}
	return *j.Error
}

// Duration is CompletedAt - StartedAt, zero while the job is running.
func (j ImportJob) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
