// Package store persists the timing model and import jobs.
//
// Two implementations share one contract: Postgres (pgx) for production and
// an in-memory store for tests and single-process demos. Every error returned
// wraps one of the timing error kinds so callers classify with errors.Is.
package store

import (
	"context"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

// Store is the timing record store.
type Store interface {
	JobStore
	CatalogStore

	// DriverLaps returns the driver's valid laps matching f, ordered by lap
	// id (insertion order).
	DriverLaps(ctx context.Context, driverID int64, f timing.FilterCriteria) ([]timing.DriverLap, error)

	// EventLaps returns every valid lap driven in the event matching f,
	// ordered by lap id.
	EventLaps(ctx context.Context, eventID int64, f timing.EventLapFilter) ([]timing.DriverLap, error)

	// InTx runs fn in a single transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(Tx) error) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// JobStore persists import jobs. Rows are never deleted.
type JobStore interface {
	CreateJob(ctx context.Context, job timing.ImportJob) error

	// UpdateJob overwrites job only while its stored state is expected;
	// otherwise it returns timing.ErrInvalidStateTransition.
	UpdateJob(ctx context.Context, job timing.ImportJob, expected timing.JobState) error

	// GetJob returns timing.ErrNotFound for unknown ids.
	GetJob(ctx context.Context, id string) (timing.ImportJob, error)

	// ListJobs returns the newest jobs first, optionally restricted to states.
	ListJobs(ctx context.Context, limit int, states ...timing.JobState) ([]timing.ImportJob, error)

	CountJobsByState(ctx context.Context) (map[timing.JobState]int, error)
}

// CatalogStore serves the browse endpoints.
type CatalogStore interface {
	// CreateSeries returns timing.ErrResourceExists when the name is taken.
	CreateSeries(ctx context.Context, s timing.Series) (timing.Series, error)
	GetSeries(ctx context.Context, id int64) (timing.Series, error)
	ListSeries(ctx context.Context) ([]timing.Series, error)
	ListSeriesYears(ctx context.Context, seriesID int64) ([]int, error)
	ListEvents(ctx context.Context, seriesID int64, year int) ([]timing.Event, error)
	GetEvent(ctx context.Context, id int64) (timing.Event, error)
	GetDriver(ctx context.Context, id int64) (timing.Driver, error)
}

// Tx is the unit of work for one reconcile. FindOrCreate methods report
// whether the row was created by this call.
type Tx interface {
	GetSeries(ctx context.Context, id int64) (timing.Series, error)
	GetEvent(ctx context.Context, id int64) (timing.Event, error)
	GetSession(ctx context.Context, id int64) (timing.Session, error)
	FindSession(ctx context.Context, eventID int64, name string) (timing.Session, bool, error)
	FindEvent(ctx context.Context, seriesID int64, name string, year int) (timing.Event, bool, error)

	FindOrCreateCircuit(ctx context.Context, name string) (timing.Circuit, bool, error)
	FindOrCreateEvent(ctx context.Context, e timing.Event) (timing.Event, bool, error)
	FindOrCreateSession(ctx context.Context, s timing.Session) (timing.Session, bool, error)
	FindOrCreateTeam(ctx context.Context, name string) (timing.Team, bool, error)
	FindOrCreateClass(ctx context.Context, seriesID int64, name string) (timing.CarClass, bool, error)
	FindOrCreateCarModel(ctx context.Context, name string) (timing.CarModel, bool, error)
	FindOrCreateCarEntry(ctx context.Context, e timing.CarEntry) (timing.CarEntry, bool, error)
	FindOrCreateDriver(ctx context.Context, d timing.Driver) (timing.Driver, bool, error)
	FindOrCreateCarDriver(ctx context.Context, cd timing.CarDriver) (timing.CarDriver, bool, error)
	FindOrCreateResult(ctx context.Context, r timing.Result) (timing.Result, bool, error)

	// FindCarEntry looks a car up by its number within a session.
	FindCarEntry(ctx context.Context, sessionID int64, number string) (timing.CarEntry, bool, error)
	CarDrivers(ctx context.Context, carEntryID int64) ([]timing.CarDriver, error)

	// ResultDrivers returns the ids of drivers holding a result in the session.
	ResultDrivers(ctx context.Context, sessionID int64) (map[int64]bool, error)
	LapKeys(ctx context.Context, sessionID int64) (map[timing.LapKey]bool, error)
	InsertLaps(ctx context.Context, laps []timing.Lap) (int, error)
}
