package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/laptiming/internal/store"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

// OrphanedJobReason is recorded on jobs a previous process left unfinished.
const OrphanedJobReason = "import interrupted by server restart"

// JobTracker owns the import job lifecycle. Every transition goes through
// transition, which holds the job's lock and persists with a conditional
// update, so concurrent writers on one job are serialised here and across
// processes.
type JobTracker struct {
	store store.JobStore
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	sync.Mutex
	refs int
}

// NewJobTracker creates a tracker backed by st.
func NewJobTracker(st store.JobStore) *JobTracker {
	return &JobTracker{
		store: st,
		now:   time.Now,
		locks: make(map[string]*jobLock),
	}
}

// lock takes the per-job mutex and returns its release function. Entries are
// dropped once nobody holds or waits on them.
func (t *JobTracker) lock(id string) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &jobLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}

// Create records a new pending job for req.
func (t *JobTracker) Create(ctx context.Context, req timing.ImportRequest) (timing.ImportJob, error) {
	job := timing.ImportJob{
		ID:        uuid.NewString(),
		SourceURL: req.SourceURL,
		Kind:      req.Kind,
		Importer:  req.Importer,
		State:     timing.JobPending,
		Request:   req,
		CreatedAt: t.now().UTC(),
	}
	if err := t.store.CreateJob(ctx, job); err != nil {
		return timing.ImportJob{}, fmt.Errorf("create job: %w", err)
	}
	slog.Debug("job created", "job_id", job.ID, "source_url", job.SourceURL)
	return job, nil
}

// MarkStarted moves a pending job to started.
func (t *JobTracker) MarkStarted(ctx context.Context, id string) error {
	return t.transition(ctx, id, timing.JobStarted, func(j *timing.ImportJob, now time.Time) {
		j.StartedAt = &now
	})
}

// MarkCompleted moves a started job to completed with its summary.
func (t *JobTracker) MarkCompleted(ctx context.Context, id string, summary timing.ImportSummary) error {
	return t.transition(ctx, id, timing.JobCompleted, func(j *timing.ImportJob, now time.Time) {
		j.Summary = summary
		j.CompletedAt = &now
	})
}

// MarkFailed moves a pending or started job to failed. The reason is stored
// once and never changes afterwards.
func (t *JobTracker) MarkFailed(ctx context.Context, id, reason string, retryable bool) error {
	if reason == "" {
		reason = "import failed"
	}
	return t.transition(ctx, id, timing.JobFailed, func(j *timing.ImportJob, now time.Time) {
		j.Error = &reason
		j.Retryable = retryable
		j.CompletedAt = &now
	})
}

func (t *JobTracker) transition(ctx context.Context, id string, next timing.JobState, apply func(*timing.ImportJob, time.Time)) error {
	unlock := t.lock(id)
	defer unlock()

	job, err := t.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: job %s cannot move from %s to %s",
			timing.ErrInvalidStateTransition, id, job.State, next)
	}

	prev := job.State
	job.State = next
	apply(&job, t.now().UTC())

	if err := t.store.UpdateJob(ctx, job, prev); err != nil {
		return err
	}
	slog.Debug("job transition", "job_id", id, "from", prev, "to", next)
	return nil
}

// Get returns the job, with ok=false when it does not exist.
func (t *JobTracker) Get(ctx context.Context, id string) (timing.ImportJob, bool, error) {
	job, err := t.store.GetJob(ctx, id)
	if errors.Is(err, timing.ErrNotFound) {
		return timing.ImportJob{}, false, nil
	}
	if err != nil {
		return timing.ImportJob{}, false, err
	}
	return job, true, nil
}

// List returns up to limit jobs, newest first.
func (t *JobTracker) List(ctx context.Context, limit int) ([]timing.ImportJob, error) {
	return t.store.ListJobs(ctx, limit)
}

// Counts returns the number of jobs per state.
func (t *JobTracker) Counts(ctx context.Context) (map[timing.JobState]int, error) {
	return t.store.CountJobsByState(ctx)
}

// FailOrphaned fails jobs left pending or started by a previous process.
// Call it before the worker pool accepts new work.
func (t *JobTracker) FailOrphaned(ctx context.Context) (int, error) {
	jobs, err := t.store.ListJobs(ctx, 0, timing.JobPending, timing.JobStarted)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, job := range jobs {
		err := t.MarkFailed(ctx, job.ID, OrphanedJobReason, true)
		switch {
		case err == nil:
			failed++
		case errors.Is(err, timing.ErrInvalidStateTransition):
			// finished while we were looking
		default:
			return failed, err
		}
	}
	return failed, nil
}
