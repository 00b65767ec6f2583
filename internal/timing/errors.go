package timing

import "errors"

// Error kinds. Callers wrap them with fmt.Errorf("%w: ...") and classify with
// errors.Is.
var (
	// ErrReportUnreachable is a network or I/O failure while fetching a report.
	ErrReportUnreachable = errors.New("report unreachable")

	// ErrReportFormatInvalid means the report does not have the expected shape.
	ErrReportFormatInvalid = errors.New("report format invalid")

	// ErrReferentialPrecondition means a timecard row references a
	// (session, driver) pair that has no result yet.
	ErrReferentialPrecondition = errors.New("referential precondition failed")

	// ErrInvalidStateTransition is a job lifecycle violation.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrInvalidArgument is a bad caller-supplied value.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is an unknown job or entity id.
	ErrNotFound = errors.New("not found")

	// ErrResourceExists is a conflicting create.
	ErrResourceExists = errors.New("resource already exists")

	// ErrStoreUnavailable is a transient persistence failure.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotRetryable marks a failure that repeats if retried unchanged, such
	// as a report URL answering 404. It accompanies another kind.
	ErrNotRetryable = errors.New("not retryable")
)

// IsTransient reports whether err is worth retrying automatically.
func IsTransient(err error) bool {
	if errors.Is(err, ErrNotRetryable) {
		return false
	}
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrReportUnreachable)
}
