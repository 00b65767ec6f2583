package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an open pool. The schema must already be migrated.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return classify("ping", p.pool.Ping(ctx))
}

// InTx runs fn inside pgx.BeginFunc; fn's error rolls the transaction back.
func (p *Postgres) InTx(ctx context.Context, fn func(Tx) error) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{db: tx})
	})
	return classify("transaction", err)
}

// ---------------------------------------------------------------------------
// Import jobs
// ---------------------------------------------------------------------------

const jobColumns = `id::text, source_url, kind, importer, state, error, retryable,
	summary, request, created_at, started_at, completed_at`

func (p *Postgres) CreateJob(ctx context.Context, job timing.ImportJob) error {
	summary, request, err := marshalJobDocs(job)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO import_job (id, source_url, kind, importer, state, error, retryable,
			summary, request, created_at, started_at, completed_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.SourceURL, string(job.Kind), string(job.Importer), string(job.State),
		job.Error, job.Retryable, summary, request, job.CreatedAt, job.StartedAt, job.CompletedAt)
	return classify("create job", err)
}

func (p *Postgres) UpdateJob(ctx context.Context, job timing.ImportJob, expected timing.JobState) error {
	summary, _, err := marshalJobDocs(job)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE import_job
		SET state = $2, error = $3, retryable = $4, summary = $5, started_at = $6, completed_at = $7
		WHERE id = $1::uuid AND state = $8`,
		job.ID, string(job.State), job.Error, job.Retryable, summary, job.StartedAt, job.CompletedAt,
		string(expected))
	if err != nil {
		return classify("update job", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := p.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s, expected %s", timing.ErrInvalidStateTransition, job.ID, current.State, expected)
}

func (p *Postgres) GetJob(ctx context.Context, id string) (timing.ImportJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return timing.ImportJob{}, fmt.Errorf("%w: job %s", timing.ErrNotFound, id)
	}
	row := p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_job WHERE id = $1::uuid`, id)
	job, err := scanJob(row)
	if err != nil {
		return timing.ImportJob{}, classify("get job "+id, err)
	}
	return job, nil
}

func (p *Postgres) ListJobs(ctx context.Context, limit int, states ...timing.JobState) ([]timing.ImportJob, error) {
	wb := NewWhereBuilder()
	wb.AddAny("state", lo.Map(states, func(s timing.JobState, _ int) string { return string(s) }))
	whereClause, args := wb.Build()

	query := `SELECT ` + jobColumns + ` FROM import_job` + whereClause + ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", wb.NextArgIndex())
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list jobs", err)
	}
	defer rows.Close()

	jobs := []timing.ImportJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, classify("list jobs", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, classify("list jobs", rows.Err())
}

func (p *Postgres) CountJobsByState(ctx context.Context) (map[timing.JobState]int, error) {
	rows, err := p.pool.Query(ctx, `SELECT state, count(*) FROM import_job GROUP BY state`)
	if err != nil {
		return nil, classify("count jobs", err)
	}
	defer rows.Close()

	counts := make(map[timing.JobState]int, len(timing.AllJobStates))
	for _, s := range timing.AllJobStates {
		counts[s] = 0
	}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, classify("count jobs", err)
		}
		counts[timing.JobState(state)] = n
	}
	return counts, classify("count jobs", rows.Err())
}

func marshalJobDocs(job timing.ImportJob) (summary, request []byte, err error) {
	if summary, err = json.Marshal(job.Summary); err != nil {
		return nil, nil, fmt.Errorf("encode job summary: %w", err)
	}
	if request, err = json.Marshal(job.Request); err != nil {
		return nil, nil, fmt.Errorf("encode job request: %w", err)
	}
	return summary, request, nil
}

func scanJob(row pgx.Row) (timing.ImportJob, error) {
	var (
		job                    timing.ImportJob
		kind, importer, state  string
		summary, request       []byte
		createdAt              time.Time
		startedAt, completedAt *time.Time
	)
	err := row.Scan(&job.ID, &job.SourceURL, &kind, &importer, &state, &job.Error, &job.Retryable,
		&summary, &request, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return timing.ImportJob{}, err
	}
	job.Kind = timing.ReportKind(kind)
	job.Importer = timing.Importer(importer)
	job.State = timing.JobState(state)
	job.CreatedAt = createdAt.UTC()
	job.StartedAt = utcPtr(startedAt)
	job.CompletedAt = utcPtr(completedAt)

	if err := json.Unmarshal(summary, &job.Summary); err != nil {
		return timing.ImportJob{}, fmt.Errorf("decode job summary: %w", err)
	}
	if err := json.Unmarshal(request, &job.Request); err != nil {
		return timing.ImportJob{}, fmt.Errorf("decode job request: %w", err)
	}
	return job, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

func (p *Postgres) CreateSeries(ctx context.Context, s timing.Series) (timing.Series, error) {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO series (name, description) VALUES ($1, $2) RETURNING id`,
		s.Name, s.Description).Scan(&s.ID)
	if err != nil {
		return timing.Series{}, classify("create series "+s.Name, err)
	}
	return s, nil
}

func (p *Postgres) GetSeries(ctx context.Context, id int64) (timing.Series, error) {
	return getSeries(ctx, p.pool, id)
}

func (p *Postgres) ListSeries(ctx context.Context) ([]timing.Series, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, description FROM series ORDER BY name`)
	if err != nil {
		return nil, classify("list series", err)
	}
	series, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (timing.Series, error) {
		var s timing.Series
		err := row.Scan(&s.ID, &s.Name, &s.Description)
		return s, err
	})
	return series, classify("list series", err)
}

func (p *Postgres) ListSeriesYears(ctx context.Context, seriesID int64) ([]int, error) {
	if _, err := p.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT year FROM event WHERE series_id = $1 ORDER BY year DESC`, seriesID)
	if err != nil {
		return nil, classify("list series years", err)
	}
	years, err := pgx.CollectRows(rows, pgx.RowTo[int])
	return years, classify("list series years", err)
}

func (p *Postgres) ListEvents(ctx context.Context, seriesID int64, year int) ([]timing.Event, error) {
	if _, err := p.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, series_id, year, name, circuit_id FROM event
		 WHERE series_id = $1 AND year = $2 ORDER BY id`, seriesID, year)
	if err != nil {
		return nil, classify("list events", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (timing.Event, error) {
		return scanEvent(row)
	})
	return events, classify("list events", err)
}

func (p *Postgres) GetEvent(ctx context.Context, id int64) (timing.Event, error) {
	return getEvent(ctx, p.pool, id)
}

func (p *Postgres) GetDriver(ctx context.Context, id int64) (timing.Driver, error) {
	var d timing.Driver
	err := p.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, external_ref FROM driver WHERE id = $1`, id).
		Scan(&d.ID, &d.FirstName, &d.LastName, &d.ExternalRef)
	if err != nil {
		return timing.Driver{}, classify(fmt.Sprintf("get driver %d", id), err)
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Analysis
// ---------------------------------------------------------------------------

const lapContextQuery = `
	SELECT l.id, l.session_id, l.driver_id, l.car_entry_id, l.lap_number, l.lap_time_millis, l.flags,
		l.sector1_millis, l.sector2_millis, l.sector3_millis, l.session_elapsed_millis,
		l.average_speed_kph, l.hour,
		e.id, e.series_id, e.year, e.name, s.name, ce.number, COALESCE(t.name, ''),
		d.first_name, d.last_name, ce.class_id, COALESCE(cc.name, ''), COALESCE(cm.name, '')
	FROM lap l
	JOIN session s ON s.id = l.session_id
	JOIN event e ON e.id = s.event_id
	JOIN car_entry ce ON ce.id = l.car_entry_id
	LEFT JOIN team t ON t.id = ce.team_id
	LEFT JOIN car_class cc ON cc.id = ce.class_id
	LEFT JOIN car_model cm ON cm.id = ce.car_model_id
	JOIN driver d ON d.id = l.driver_id`

// validLaps starts a WHERE clause excluding untimed and invalid laps.
func validLaps() *WhereBuilder {
	wb := NewWhereBuilder()
	wb.AddCond("l.lap_time_millis > $%d", 0)
	wb.AddCond("(l.flags & $%d) = 0", int16(timing.LapInvalid))
	return wb
}

func (p *Postgres) DriverLaps(ctx context.Context, driverID int64, f timing.FilterCriteria) ([]timing.DriverLap, error) {
	wb := validLaps()
	wb.Add("l.driver_id", driverID)
	wb.Add("e.series_id", f.SeriesID)
	wb.Add("e.year", f.Year)
	wb.Add("e.id", f.EventID)
	wb.Add("l.session_id", f.SessionID)
	return p.queryLaps(ctx, "driver laps", wb)
}

func (p *Postgres) EventLaps(ctx context.Context, eventID int64, f timing.EventLapFilter) ([]timing.DriverLap, error) {
	wb := validLaps()
	wb.Add("e.id", eventID)
	wb.Add("ce.class_id", f.ClassID)
	wb.Add("l.car_entry_id", f.CarEntryID)
	wb.Add("l.session_id", f.SessionID)
	return p.queryLaps(ctx, "event laps", wb)
}

func (p *Postgres) queryLaps(ctx context.Context, op string, wb *WhereBuilder) ([]timing.DriverLap, error) {
	whereClause, args := wb.Build()
	rows, err := p.pool.Query(ctx, lapContextQuery+whereClause+` ORDER BY l.id`, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	laps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (timing.DriverLap, error) {
		var (
			dl          timing.DriverLap
			flags       int16
			first, last string
		)
		err := row.Scan(&dl.ID, &dl.SessionID, &dl.DriverID, &dl.CarEntryID, &dl.LapNumber,
			&dl.LapTimeMillis, &flags, &dl.Sector1Millis, &dl.Sector2Millis, &dl.Sector3Millis,
			&dl.SessionElapsedMillis, &dl.AverageSpeedKph, &dl.Hour,
			&dl.EventID, &dl.SeriesID, &dl.Year, &dl.EventName, &dl.SessionName, &dl.CarNumber,
			&dl.TeamName, &first, &last, &dl.ClassID, &dl.ClassName, &dl.CarModel)
		dl.Flags = timing.LapFlags(flags)
		dl.DriverName = timing.Driver{FirstName: first, LastName: last}.FullName()
		return dl, err
	})
	return laps, classify(op, err)
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func getSeries(ctx context.Context, db DBTX, id int64) (timing.Series, error) {
	var s timing.Series
	err := db.QueryRow(ctx, `SELECT id, name, description FROM series WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Description)
	if err != nil {
		return timing.Series{}, classify(fmt.Sprintf("get series %d", id), err)
	}
	return s, nil
}

func getEvent(ctx context.Context, db DBTX, id int64) (timing.Event, error) {
	e, err := scanEvent(db.QueryRow(ctx,
		`SELECT id, series_id, year, name, circuit_id FROM event WHERE id = $1`, id))
	if err != nil {
		return timing.Event{}, classify(fmt.Sprintf("get event %d", id), err)
	}
	return e, nil
}

func scanEvent(row pgx.Row) (timing.Event, error) {
	var e timing.Event
	err := row.Scan(&e.ID, &e.SeriesID, &e.Year, &e.Name, &e.CircuitID)
	return e, err
}
