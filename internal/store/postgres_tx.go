package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

// pgTx implements Tx on a live pgx transaction.
type pgTx struct {
	db DBTX
}

// findOrCreate inserts with ON CONFLICT DO NOTHING and, when a row with the
// same key already exists, reads its id with a second statement. The lookup
// must be its own statement: under READ COMMITTED a conflicting row committed
// by a concurrent transaction while the insert waited is only visible to a
// later statement's snapshot.
func (t *pgTx) findOrCreate(ctx context.Context, op, insert string, insertArgs []any, lookup string, lookupArgs ...any) (int64, bool, error) {
	var id int64
	err := t.db.QueryRow(ctx, insert, insertArgs...).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, classify(op, err)
	}
	if err := t.db.QueryRow(ctx, lookup, lookupArgs...).Scan(&id); err != nil {
		return 0, false, classify(op, err)
	}
	return id, false, nil
}

func (t *pgTx) GetSeries(ctx context.Context, id int64) (timing.Series, error) {
	return getSeries(ctx, t.db, id)
}

func (t *pgTx) GetEvent(ctx context.Context, id int64) (timing.Event, error) {
	return getEvent(ctx, t.db, id)
}

func (t *pgTx) GetSession(ctx context.Context, id int64) (timing.Session, error) {
	s, err := scanSession(t.db.QueryRow(ctx,
		`SELECT id, event_id, type, name, starts_at FROM session WHERE id = $1`, id))
	if err != nil {
		return timing.Session{}, classify(fmt.Sprintf("get session %d", id), err)
	}
	return s, nil
}

func (t *pgTx) FindSession(ctx context.Context, eventID int64, name string) (timing.Session, bool, error) {
	s, err := scanSession(t.db.QueryRow(ctx,
		`SELECT id, event_id, type, name, starts_at FROM session WHERE event_id = $1 AND name = $2`,
		eventID, name))
	return found(s, err, "find session "+name)
}

func (t *pgTx) FindEvent(ctx context.Context, seriesID int64, name string, year int) (timing.Event, bool, error) {
	e, err := scanEvent(t.db.QueryRow(ctx,
		`SELECT id, series_id, year, name, circuit_id FROM event
		 WHERE series_id = $1 AND name = $2 AND year = $3`, seriesID, name, year))
	return found(e, err, "find event "+name)
}

func (t *pgTx) FindOrCreateCircuit(ctx context.Context, name string) (timing.Circuit, bool, error) {
	id, created, err := t.findOrCreate(ctx, "circuit "+name,
		`INSERT INTO circuit (name) VALUES ($1) ON CONFLICT DO NOTHING RETURNING id`, []any{name},
		`SELECT id FROM circuit WHERE name = $1`, name)
	return timing.Circuit{ID: id, Name: name}, created, err
}

func (t *pgTx) FindOrCreateEvent(ctx context.Context, e timing.Event) (timing.Event, bool, error) {
	id, created, err := t.findOrCreate(ctx, "event "+e.Name, `
		INSERT INTO event (series_id, year, name, circuit_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING RETURNING id`, []any{e.SeriesID, e.Year, e.Name, e.CircuitID},
		`SELECT id FROM event WHERE series_id = $1 AND year = $2 AND name = $3`,
		e.SeriesID, e.Year, e.Name)
	e.ID = id
	return e, created, err
}

func (t *pgTx) FindOrCreateSession(ctx context.Context, s timing.Session) (timing.Session, bool, error) {
	id, created, err := t.findOrCreate(ctx, "session "+s.Name, `
		INSERT INTO session (event_id, type, name, starts_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING RETURNING id`, []any{s.EventID, string(s.Type), s.Name, s.StartsAt},
		`SELECT id FROM session WHERE event_id = $1 AND name = $2`, s.EventID, s.Name)
	s.ID = id
	return s, created, err
}

func (t *pgTx) FindOrCreateTeam(ctx context.Context, name string) (timing.Team, bool, error) {
	id, created, err := t.findOrCreate(ctx, "team "+name,
		`INSERT INTO team (name) VALUES ($1) ON CONFLICT DO NOTHING RETURNING id`, []any{name},
		`SELECT id FROM team WHERE name = $1`, name)
	return timing.Team{ID: id, Name: name}, created, err
}

func (t *pgTx) FindOrCreateClass(ctx context.Context, seriesID int64, name string) (timing.CarClass, bool, error) {
	id, created, err := t.findOrCreate(ctx, "class "+name,
		`INSERT INTO car_class (series_id, name) VALUES ($1, $2) ON CONFLICT DO NOTHING RETURNING id`,
		[]any{seriesID, name},
		`SELECT id FROM car_class WHERE series_id = $1 AND name = $2`, seriesID, name)
	return timing.CarClass{ID: id, SeriesID: seriesID, Name: name}, created, err
}

func (t *pgTx) FindOrCreateCarModel(ctx context.Context, name string) (timing.CarModel, bool, error) {
	id, created, err := t.findOrCreate(ctx, "car model "+name,
		`INSERT INTO car_model (name) VALUES ($1) ON CONFLICT DO NOTHING RETURNING id`, []any{name},
		`SELECT id FROM car_model WHERE name = $1`, name)
	return timing.CarModel{ID: id, Name: name}, created, err
}

func (t *pgTx) FindOrCreateCarEntry(ctx context.Context, e timing.CarEntry) (timing.CarEntry, bool, error) {
	id, created, err := t.findOrCreate(ctx, "car entry "+e.Number, `
		INSERT INTO car_entry (session_id, number, team_id, class_id, car_model_id, tire_supplier)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING RETURNING id`,
		[]any{e.SessionID, e.Number, e.TeamID, e.ClassID, e.CarModelID, e.TireSupplier},
		`SELECT id FROM car_entry WHERE session_id = $1 AND number = $2`, e.SessionID, e.Number)
	e.ID = id
	return e, created, err
}

func (t *pgTx) FindOrCreateDriver(ctx context.Context, d timing.Driver) (timing.Driver, bool, error) {
	id, created, err := t.findOrCreate(ctx, "driver "+d.FullName(), `
		INSERT INTO driver (first_name, last_name, external_ref) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING RETURNING id`, []any{d.FirstName, d.LastName, d.ExternalRef}, `
		SELECT id FROM driver
		WHERE lower(first_name) = lower($1) AND lower(last_name) = lower($2)
		AND lower(external_ref) = lower($3)`, d.FirstName, d.LastName, d.ExternalRef)
	d.ID = id
	return d, created, err
}

// FindOrCreateCarDriver keeps the driver already holding the number.
func (t *pgTx) FindOrCreateCarDriver(ctx context.Context, cd timing.CarDriver) (timing.CarDriver, bool, error) {
	driverID, created, err := t.findOrCreate(ctx, fmt.Sprintf("car driver %d/%d", cd.CarEntryID, cd.DriverNumber), `
		INSERT INTO car_driver (car_entry_id, driver_id, driver_number) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING RETURNING driver_id`, []any{cd.CarEntryID, cd.DriverID, cd.DriverNumber},
		`SELECT driver_id FROM car_driver WHERE car_entry_id = $1 AND driver_number = $2`,
		cd.CarEntryID, cd.DriverNumber)
	cd.DriverID = driverID
	return cd, created, err
}

func (t *pgTx) FindOrCreateResult(ctx context.Context, r timing.Result) (timing.Result, bool, error) {
	id, created, err := t.findOrCreate(ctx, fmt.Sprintf("result %d/%d", r.SessionID, r.DriverID), `
		INSERT INTO result (session_id, driver_id, car_entry_id, finish_position, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING RETURNING id`,
		[]any{r.SessionID, r.DriverID, r.CarEntryID, r.FinishPosition, r.Status},
		`SELECT id FROM result WHERE session_id = $1 AND driver_id = $2`, r.SessionID, r.DriverID)
	r.ID = id
	return r, created, err
}

func (t *pgTx) FindCarEntry(ctx context.Context, sessionID int64, number string) (timing.CarEntry, bool, error) {
	var e timing.CarEntry
	err := t.db.QueryRow(ctx, `
		SELECT id, session_id, number, team_id, class_id, car_model_id, tire_supplier
		FROM car_entry WHERE session_id = $1 AND number = $2`, sessionID, number).
		Scan(&e.ID, &e.SessionID, &e.Number, &e.TeamID, &e.ClassID, &e.CarModelID, &e.TireSupplier)
	return found(e, err, "find car entry "+number)
}

func (t *pgTx) CarDrivers(ctx context.Context, carEntryID int64) ([]timing.CarDriver, error) {
	rows, err := t.db.Query(ctx, `
		SELECT car_entry_id, driver_id, driver_number FROM car_driver
		WHERE car_entry_id = $1 ORDER BY driver_number`, carEntryID)
	if err != nil {
		return nil, classify("car drivers", err)
	}
	drivers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (timing.CarDriver, error) {
		var cd timing.CarDriver
		err := row.Scan(&cd.CarEntryID, &cd.DriverID, &cd.DriverNumber)
		return cd, err
	})
	return drivers, classify("car drivers", err)
}

func (t *pgTx) ResultDrivers(ctx context.Context, sessionID int64) (map[int64]bool, error) {
	rows, err := t.db.Query(ctx, `SELECT driver_id FROM result WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, classify("result drivers", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, classify("result drivers", err)
	}
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (t *pgTx) LapKeys(ctx context.Context, sessionID int64) (map[timing.LapKey]bool, error) {
	rows, err := t.db.Query(ctx, `SELECT driver_id, lap_number FROM lap WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, classify("lap keys", err)
	}
	defer rows.Close()

	keys := make(map[timing.LapKey]bool)
	for rows.Next() {
		k := timing.LapKey{SessionID: sessionID}
		if err := rows.Scan(&k.DriverID, &k.LapNumber); err != nil {
			return nil, classify("lap keys", err)
		}
		keys[k] = true
	}
	return keys, classify("lap keys", rows.Err())
}

var lapColumns = []string{
	"session_id", "driver_id", "car_entry_id", "lap_number", "lap_time_millis", "flags",
	"sector1_millis", "sector2_millis", "sector3_millis", "session_elapsed_millis",
	"average_speed_kph", "hour",
}

// InsertLaps bulk-loads laps with COPY. Callers dedupe against LapKeys first;
// a duplicate key aborts the whole copy.
func (t *pgTx) InsertLaps(ctx context.Context, laps []timing.Lap) (int, error) {
	if len(laps) == 0 {
		return 0, nil
	}
	n, err := t.db.CopyFrom(ctx, pgx.Identifier{"lap"}, lapColumns,
		pgx.CopyFromSlice(len(laps), func(i int) ([]any, error) {
			l := laps[i]
			return []any{
				l.SessionID, l.DriverID, l.CarEntryID, l.LapNumber, l.LapTimeMillis, int16(l.Flags),
				l.Sector1Millis, l.Sector2Millis, l.Sector3Millis, l.SessionElapsedMillis,
				l.AverageSpeedKph, l.Hour,
			}, nil
		}))
	if err != nil {
		return 0, classify("insert laps", err)
	}
	return int(n), nil
}

func scanSession(row pgx.Row) (timing.Session, error) {
	var (
		s  timing.Session
		st string
	)
	err := row.Scan(&s.ID, &s.EventID, &st, &s.Name, &s.StartsAt)
	s.Type = timing.SessionType(st)
	return s, err
}

// found turns pgx.ErrNoRows into (zero, false, nil).
func found[T any](v T, err error, op string) (T, bool, error) {
	var zero T
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, classify(op, err)
	}
	return v, true, nil
}
