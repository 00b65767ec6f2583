package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// classify wraps a driver error in the matching timing error kind. Errors
// that already carry a kind pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		timing.ErrNotFound,
		timing.ErrResourceExists,
		timing.ErrInvalidStateTransition,
		timing.ErrInvalidArgument,
		timing.ErrStoreUnavailable,
		timing.ErrReferentialPrecondition,
		timing.ErrReportFormatInvalid,
		timing.ErrReportUnreachable,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", timing.ErrNotFound, op)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", timing.ErrStoreUnavailable, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s: %s", timing.ErrResourceExists, op, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s: %s", timing.ErrReferentialPrecondition, op, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%w: %s: %v", timing.ErrStoreUnavailable, op, err)
}
