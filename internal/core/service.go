package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/laptiming/internal/logging"
	"github.com/JonMunkholm/laptiming/internal/metrics"
	"github.com/JonMunkholm/laptiming/internal/report"
	"github.com/JonMunkholm/laptiming/internal/store"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

// storeFailureReason is stored on jobs that failed on the database, so the
// job record never leaks driver errors.
const storeFailureReason = "temporary storage failure"

// Fetcher downloads a report. *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string, kind timing.ReportKind, importer timing.Importer) (timing.RawReport, error)
}

// Service runs imports and owns the job lifecycle.
type Service struct {
	store     store.Store
	fetcher   Fetcher
	jobs      *JobTracker
	pool      *WorkerPool
	resolvers *resolvers
	checks    *CheckLimiter
	metrics   *metrics.Manager
	timeout   time.Duration
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMetrics records import outcomes and cache lookups in m.
func WithMetrics(m *metrics.Manager) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithCheckLimiter bounds concurrent CheckResults/CheckTimecard calls.
func WithCheckLimiter(l *CheckLimiter) ServiceOption {
	return func(s *Service) { s.checks = l }
}

// WithJobTimeout bounds each background import. Zero leaves imports
// unbounded; the fetcher's own timeout still applies to downloads.
func WithJobTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.timeout = d }
}

// NewService wires the import pipeline. The pool must be started by the
// caller with Run.
func NewService(st store.Store, f Fetcher, pool *WorkerPool, cacheTTL time.Duration, opts ...ServiceOption) *Service {
	s := &Service{
		store:   st,
		fetcher: f,
		jobs:    NewJobTracker(st),
		pool:    pool,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.checks == nil {
		s.checks = NewCheckLimiter(DefaultMaxConcurrentChecks, DefaultCheckWait)
	}
	s.resolvers = newResolvers(cacheTTL, s.metrics)
	return s
}

// Jobs returns the job tracker.
func (s *Service) Jobs() *JobTracker {
	return s.jobs
}

// Pool returns the worker pool.
func (s *Service) Pool() *WorkerPool {
	return s.pool
}

// Checks returns the limiter guarding synchronous checks.
func (s *Service) Checks() *CheckLimiter {
	return s.checks
}

// Store returns the backing store.
func (s *Service) Store() store.Store {
	return s.store
}

// FlushCaches drops every cached entity id.
func (s *Service) FlushCaches() {
	s.resolvers.flush()
}

// CheckResults imports a results report synchronously and returns what it
// did. No job is recorded.
func (s *Service) CheckResults(ctx context.Context, req timing.ImportRequest) (ReconcileReport, error) {
	req.Kind = timing.KindResults
	return s.check(ctx, req)
}

// CheckTimecard imports a timecard synchronously. The target session must
// already hold results.
func (s *Service) CheckTimecard(ctx context.Context, req timing.ImportRequest) (ReconcileReport, error) {
	req.Kind = timing.KindTimecard
	return s.check(ctx, req)
}

func (s *Service) check(ctx context.Context, req timing.ImportRequest) (ReconcileReport, error) {
	if err := req.Validate(); err != nil {
		return ReconcileReport{}, err
	}
	if err := s.checks.Acquire(ctx); err != nil {
		return ReconcileReport{}, err
	}
	defer s.checks.Release()

	logger := logging.WithFields(ctx, "source_url", req.SourceURL, "kind", req.Kind)
	start := s.now()

	rep, err := s.runImport(ctx, req)
	if err != nil {
		logger.Warn("check failed", "error", err)
		return ReconcileReport{}, err
	}
	logger.Info("check completed",
		"created", len(rep.Created),
		"existing", len(rep.AlreadyExisting),
		"rejected", len(rep.Errors),
		"laps_inserted", rep.LapsInserted,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)
	return *rep, nil
}

// SubmitImport records a pending job and queues it. It returns without
// waiting for the fetch. When the queue is full the job is failed as
// retryable and ErrQueueFull is returned with it.
func (s *Service) SubmitImport(ctx context.Context, req timing.ImportRequest) (timing.ImportJob, error) {
	if err := req.Validate(); err != nil {
		return timing.ImportJob{}, err
	}

	job, err := s.jobs.Create(ctx, req)
	if err != nil {
		return timing.ImportJob{}, err
	}

	err = s.pool.Submit(func(ctx context.Context) {
		s.processImport(ctx, job.ID, req)
	})
	if err != nil {
		reason := "import queue is full"
		if errors.Is(err, ErrPoolClosed) {
			reason = "server is shutting down"
		}
		// Background context: the request may already be gone.
		if ferr := s.jobs.MarkFailed(context.Background(), job.ID, reason, true); ferr != nil {
			logging.FromContext(ctx).Error("failed to fail rejected job", "job_id", job.ID, "error", ferr)
		}
		s.metrics.ImportFinished(req.Importer, req.Kind, timing.JobFailed, 0)
		if errors.Is(err, ErrPoolClosed) {
			return job, fmt.Errorf("%w: %v", timing.ErrStoreUnavailable, err)
		}
		return job, err
	}

	logging.FromContext(ctx).Info("import queued", "job_id", job.ID, "source_url", req.SourceURL, "kind", req.Kind)
	return job, nil
}

// processImport runs one queued job to a terminal state. Every exit path,
// panics included, leaves the job completed or failed.
func (s *Service) processImport(ctx context.Context, jobID string, req timing.ImportRequest) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	logger := logging.WithFields(ctx, "job_id", jobID, "source_url", req.SourceURL)
	start := s.now()
	finished := false

	fail := func(reason string, retryable bool) {
		// The job context may be cancelled already.
		if err := s.jobs.MarkFailed(context.WithoutCancel(ctx), jobID, reason, retryable); err != nil {
			logger.Error("failed to mark job failed", "error", err)
		}
		finished = true
		s.metrics.ImportFinished(req.Importer, req.Kind, timing.JobFailed, s.now().Sub(start))
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("import panicked", "panic", r)
			if !finished {
				fail("internal error during import", false)
			}
			return
		}
		if !finished {
			fail("import aborted", true)
		}
	}()

	if err := s.jobs.MarkStarted(ctx, jobID); err != nil {
		logger.Error("failed to start job", "error", err)
		if errors.Is(err, timing.ErrInvalidStateTransition) {
			// Already terminal; nothing left to guard.
			finished = true
			return
		}
		reason, retryable := failureReason(err)
		fail(reason, retryable)
		return
	}
	logger.Info("import started", "kind", req.Kind, "importer", req.Importer)

	rep, err := s.runImport(ctx, req)
	if err != nil {
		reason, retryable := failureReason(err)
		logger.Warn("import failed", "error", err, "retryable", retryable, "duration_ms", s.now().Sub(start).Milliseconds())
		fail(reason, retryable)
		return
	}

	summary := rep.Summary()
	if err := s.jobs.MarkCompleted(context.WithoutCancel(ctx), jobID, summary); err != nil {
		logger.Error("failed to complete job", "error", err)
		reason, retryable := failureReason(err)
		fail(reason, retryable)
		return
	}
	finished = true

	d := s.now().Sub(start)
	s.metrics.ImportFinished(req.Importer, req.Kind, timing.JobCompleted, d)
	s.metrics.RecordSummary(req.Kind, summary)
	logger.Info("import completed",
		"created", summary.Created,
		"existing", summary.Existing,
		"rejected", summary.Rejected,
		"laps_inserted", summary.LapsInserted,
		"laps_skipped", summary.LapsSkipped,
		"duration_ms", d.Milliseconds(),
	)
}

// failureReason turns err into the message stored on a failed job.
func failureReason(err error) (string, bool) {
	switch {
	case errors.Is(err, timing.ErrNotRetryable):
		return err.Error(), false
	case errors.Is(err, timing.ErrStoreUnavailable):
		return storeFailureReason, true
	case errors.Is(err, context.DeadlineExceeded):
		return "import timed out", true
	case errors.Is(err, context.Canceled):
		return "import interrupted", true
	case errors.Is(err, timing.ErrReportUnreachable):
		return err.Error(), true
	default:
		return err.Error(), false
	}
}

// runImport fetches and parses every report of req, then reconciles them in
// one transaction. Caches are only updated when it commits.
func (s *Service) runImport(ctx context.Context, req timing.ImportRequest) (*ReconcileReport, error) {
	primary, err := s.load(ctx, req.SourceURL, req.Kind, req.Importer)
	if err != nil {
		return nil, err
	}

	var timecard timing.RecordSet
	if req.TimecardURL != "" {
		timecard, err = s.load(ctx, req.TimecardURL, timing.KindTimecard, req.Importer)
		if err != nil {
			return nil, err
		}
	}

	rep := newReconcileReport()
	batch := NewBatch()

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		rc := &reconciler{tx: tx, res: s.resolvers, batch: batch, report: rep}

		tg, err := rc.resolveTarget(ctx, req, req.Kind == timing.KindResults)
		if err != nil {
			return err
		}

		switch req.Kind {
		case timing.KindResults:
			if err := rc.results(ctx, tg, primary); err != nil {
				return err
			}
			if req.TimecardURL != "" {
				return rc.timecard(ctx, tg, timecard)
			}
			return nil
		case timing.KindTimecard:
			return rc.timecard(ctx, tg, primary)
		}
		return fmt.Errorf("%w: unknown report kind %q", timing.ErrInvalidArgument, req.Kind)
	})
	if err != nil {
		return nil, err
	}

	batch.Commit()
	return rep, nil
}

func (s *Service) load(ctx context.Context, url string, kind timing.ReportKind, importer timing.Importer) (timing.RecordSet, error) {
	raw, err := s.fetcher.Fetch(ctx, url, kind, importer)
	if err != nil {
		return timing.RecordSet{}, err
	}
	set, err := report.Parse(raw)
	if err != nil {
		return timing.RecordSet{}, err
	}
	return set, nil
}
