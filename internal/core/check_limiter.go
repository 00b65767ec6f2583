package core

// check_limiter.go bounds the synchronous check endpoints.
//
// A check fetches a remote report and holds a store transaction for the
// length of the request, outside the worker pool. The limiter caps how many
// run at once; a caller that cannot get a slot within maxWait fails with
// ErrTooManyChecks. WaitForDrain lets shutdown wait for running checks.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyChecks is returned when every check slot stayed occupied for the
// whole wait. Clients should retry after a short delay.
var ErrTooManyChecks = errors.New("too many concurrent checks, please try again later")

// Default check limits.
const (
	DefaultMaxConcurrentChecks = 4
	DefaultCheckWait           = 10 * time.Second
)

// CheckLimiter is a counting semaphore for synchronous checks.
type CheckLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	active int
	idle   chan struct{} // closed while active == 0
}

// NewCheckLimiter allows at most maxConcurrent checks, each waiting at most
// maxWait for a slot. Non-positive values fall back to the defaults.
func NewCheckLimiter(maxConcurrent int, maxWait time.Duration) *CheckLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentChecks
	}
	if maxWait <= 0 {
		maxWait = DefaultCheckWait
	}
	idle := make(chan struct{})
	close(idle)
	return &CheckLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		idle:    idle,
	}
}

// Acquire takes a slot. The caller must Release it.
func (l *CheckLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		if l.active == 0 {
			l.idle = make(chan struct{})
		}
		l.active++
		l.mu.Unlock()
		return nil
	case <-timer.C:
		return ErrTooManyChecks
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (l *CheckLimiter) Release() {
	l.mu.Lock()
	l.active--
	if l.active == 0 {
		close(l.idle)
	}
	l.mu.Unlock()
	<-l.slots
}

// WaitForDrain blocks until no check is running or ctx is done.
func (l *CheckLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckLimiterStatus is a snapshot for health reporting.
type CheckLimiterStatus struct {
	Active        int `json:"active"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state.
func (l *CheckLimiter) Status() CheckLimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return CheckLimiterStatus{Active: l.active, MaxConcurrent: cap(l.slots)}
}
