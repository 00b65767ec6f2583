package core

// reconcile.go writes parsed records into the store.
//
// Both report kinds are reconciled inside the caller's transaction. Entities
// are found or created through the cached resolvers; rows that cannot be
// linked to existing data are collected as row errors rather than aborting
// the import. Any store error aborts the whole transaction.

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/JonMunkholm/laptiming/internal/store"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

// ReconcileReport describes what one reconcile did. Labels take the form
// "kind:name", e.g. "driver:Mike CONWAY".
type ReconcileReport struct {
	SessionID       int64             `json:"sessionId"`
	Created         []string          `json:"created"`
	AlreadyExisting []string          `json:"alreadyExisting"`
	Errors          []timing.RowError `json:"errors"`
	LapsInserted    int               `json:"lapsInserted"`
	LapsSkipped     int               `json:"lapsSkipped"`

	seen map[string]bool
}

func newReconcileReport() *ReconcileReport {
	return &ReconcileReport{
		Created:         []string{},
		AlreadyExisting: []string{},
		Errors:          []timing.RowError{},
		seen:            make(map[string]bool),
	}
}

// record lists label once, under created or alreadyExisting depending on
// the first time it was seen.
func (r *ReconcileReport) record(label string, created bool) {
	if r.seen[label] {
		return
	}
	r.seen[label] = true
	if created {
		r.Created = append(r.Created, label)
	} else {
		r.AlreadyExisting = append(r.AlreadyExisting, label)
	}
}

func (r *ReconcileReport) rowError(e timing.RowError) {
	r.Errors = append(r.Errors, e)
}

// Summary condenses the report for the job record.
func (r *ReconcileReport) Summary() timing.ImportSummary {
	return timing.ImportSummary{
		Created:      len(r.Created),
		Existing:     len(r.AlreadyExisting),
		Rejected:     len(r.Errors),
		LapsInserted: r.LapsInserted,
		LapsSkipped:  r.LapsSkipped,
	}
}

// reconciler carries the state of one reconcile.
type reconciler struct {
	tx     store.Tx
	res    *resolvers
	batch  *Batch
	report *ReconcileReport
}

// target is the session an import writes to, with the series it belongs to.
type target struct {
	session  timing.Session
	seriesID int64
}

// resolveTarget finds the session addressed by req. When create is set the
// event, circuit and session are created from the request metadata if
// missing.
func (rc *reconciler) resolveTarget(ctx context.Context, req timing.ImportRequest, create bool) (target, error) {
	if req.SessionID != nil {
		session, err := rc.tx.GetSession(ctx, *req.SessionID)
		if err != nil {
			return target{}, err
		}
		event, err := rc.tx.GetEvent(ctx, session.EventID)
		if err != nil {
			return target{}, err
		}
		rc.report.SessionID = session.ID
		return target{session: session, seriesID: event.SeriesID}, nil
	}

	series, err := rc.tx.GetSeries(ctx, *req.SeriesID)
	if err != nil {
		return target{}, err
	}
	eventName := strings.TrimSpace(req.EventName)
	sessionName := strings.TrimSpace(req.SessionName)

	if !create {
		event, ok, err := rc.tx.FindEvent(ctx, series.ID, eventName, req.Year)
		if err != nil {
			return target{}, err
		}
		if !ok {
			return target{}, fmt.Errorf("%w: event %q %d in series %s; import results first",
				timing.ErrNotFound, eventName, req.Year, series.Name)
		}
		session, ok, err := rc.tx.FindSession(ctx, event.ID, sessionName)
		if err != nil {
			return target{}, err
		}
		if !ok {
			return target{}, fmt.Errorf("%w: session %q of %s; import results first",
				timing.ErrNotFound, sessionName, eventName)
		}
		rc.report.SessionID = session.ID
		return target{session: session, seriesID: series.ID}, nil
	}

	event := timing.Event{SeriesID: series.ID, Year: req.Year, Name: eventName}
	if name := strings.TrimSpace(req.CircuitName); name != "" {
		circuit, created, err := rc.res.circuits.Resolve(ctx, rc.tx, rc.batch, timing.Circuit{Name: name})
		if err != nil {
			return target{}, err
		}
		rc.report.record("circuit:"+name, created)
		event.CircuitID = &circuit.ID
	}
	event, created, err := rc.tx.FindOrCreateEvent(ctx, event)
	if err != nil {
		return target{}, err
	}
	rc.report.record(fmt.Sprintf("event:%s %d", eventName, req.Year), created)

	session, created, err := rc.tx.FindOrCreateSession(ctx, timing.Session{
		EventID: event.ID,
		Type:    req.SessionType,
		Name:    sessionName,
	})
	if err != nil {
		return target{}, err
	}
	rc.report.record("session:"+sessionName, created)
	rc.report.SessionID = session.ID
	return target{session: session, seriesID: series.ID}, nil
}

// results upserts teams, classes, car models, car entries, drivers, driver
// seats and results. Re-running the same records changes nothing.
func (rc *reconciler) results(ctx context.Context, tg target, set timing.RecordSet) error {
	for _, rejected := range set.Rejected {
		rc.report.rowError(rejected)
	}

	for _, rec := range set.Results {
		entry := timing.CarEntry{
			SessionID:    tg.session.ID,
			Number:       rec.CarNumber,
			TireSupplier: rec.TireSupplier,
		}

		if rec.Team != "" {
			team, created, err := rc.res.teams.Resolve(ctx, rc.tx, rc.batch, timing.Team{Name: rec.Team})
			if err != nil {
				return err
			}
			rc.report.record("team:"+team.Name, created)
			entry.TeamID = &team.ID
		}
		if rec.Class != "" {
			class, created, err := rc.res.classes.Resolve(ctx, rc.tx, rc.batch, timing.CarClass{SeriesID: tg.seriesID, Name: rec.Class})
			if err != nil {
				return err
			}
			rc.report.record("class:"+class.Name, created)
			entry.ClassID = &class.ID
		}
		if rec.Vehicle != "" {
			model, created, err := rc.res.models.Resolve(ctx, rc.tx, rc.batch, timing.CarModel{Name: rec.Vehicle})
			if err != nil {
				return err
			}
			rc.report.record("car_model:"+model.Name, created)
			entry.CarModelID = &model.ID
		}

		entry, created, err := rc.res.entries.Resolve(ctx, rc.tx, rc.batch, entry)
		if err != nil {
			return err
		}
		rc.report.record("car:#"+entry.Number, created)

		for _, slot := range rec.Drivers {
			if err := rc.seat(ctx, tg, rec, entry, slot, set.Source); err != nil {
				return err
			}
		}
	}
	return nil
}

// seat links one driver to the car and records the driver's result.
func (rc *reconciler) seat(ctx context.Context, tg target, rec timing.ResultRecord, entry timing.CarEntry, slot timing.DriverSlot, source string) error {
	driver, created, err := rc.res.drivers.Resolve(ctx, rc.tx, rc.batch, slot.Name.Driver())
	if err != nil {
		return err
	}
	rc.report.record("driver:"+driver.FullName(), created)

	cd, _, err := rc.tx.FindOrCreateCarDriver(ctx, timing.CarDriver{
		CarEntryID:   entry.ID,
		DriverID:     driver.ID,
		DriverNumber: slot.Number,
	})
	if err != nil {
		return err
	}
	if cd.DriverID != driver.ID {
		rc.report.rowError(timing.RowError{
			Source: source,
			Line:   rec.Line,
			Reason: fmt.Sprintf("car #%s driver %d is already assigned to another driver", entry.Number, slot.Number),
			Err:    timing.ErrResourceExists,
		})
		return nil
	}

	entryID := entry.ID
	_, created, err = rc.tx.FindOrCreateResult(ctx, timing.Result{
		SessionID:      tg.session.ID,
		DriverID:       driver.ID,
		CarEntryID:     &entryID,
		FinishPosition: rec.Position,
		Status:         rec.Status,
	})
	if err != nil {
		return err
	}
	rc.report.record(fmt.Sprintf("result:#%s %s", entry.Number, driver.FullName()), created)
	return nil
}

// timecard inserts laps for drivers that already hold a result in the
// session. Laps already stored, or repeated within the report, are skipped.
func (rc *reconciler) timecard(ctx context.Context, tg target, set timing.RecordSet) error {
	for _, rejected := range set.Rejected {
		rc.report.rowError(rejected)
	}
	sessionID := tg.session.ID

	withResult, err := rc.tx.ResultDrivers(ctx, sessionID)
	if err != nil {
		return err
	}
	existing, err := rc.tx.LapKeys(ctx, sessionID)
	if err != nil {
		return err
	}

	seats := make(map[string]map[int]int64)
	entries := make(map[string]int64)

	var candidates []timing.Lap
	for _, rec := range set.Laps {
		carID, ok := entries[rec.CarNumber]
		if !ok {
			entry, found, err := rc.tx.FindCarEntry(ctx, sessionID, rec.CarNumber)
			if err != nil {
				return err
			}
			if found {
				carID = entry.ID
				drivers, err := rc.tx.CarDrivers(ctx, entry.ID)
				if err != nil {
					return err
				}
				seats[rec.CarNumber] = lo.SliceToMap(drivers, func(cd timing.CarDriver) (int, int64) {
					return cd.DriverNumber, cd.DriverID
				})
			}
			entries[rec.CarNumber] = carID
		}
		if carID == 0 {
			rc.report.rowError(preconditionError(set.Source, rec, fmt.Sprintf("car #%s has no entry in session %d", rec.CarNumber, sessionID)))
			continue
		}

		driverID, ok := seats[rec.CarNumber][rec.DriverNumber]
		if !ok {
			rc.report.rowError(preconditionError(set.Source, rec, fmt.Sprintf("car #%s has no driver %d", rec.CarNumber, rec.DriverNumber)))
			continue
		}
		if !withResult[driverID] {
			rc.report.rowError(preconditionError(set.Source, rec, fmt.Sprintf("driver %d of car #%s has no result in session %d", rec.DriverNumber, rec.CarNumber, sessionID)))
			continue
		}

		candidates = append(candidates, timing.Lap{
			SessionID:            sessionID,
			DriverID:             driverID,
			CarEntryID:           carID,
			LapNumber:            rec.LapNumber,
			LapTimeMillis:        rec.LapTimeMillis,
			Flags:                rec.Flags,
			Sector1Millis:        rec.Sector1Millis,
			Sector2Millis:        rec.Sector2Millis,
			Sector3Millis:        rec.Sector3Millis,
			SessionElapsedMillis: rec.ElapsedMillis,
			AverageSpeedKph:      rec.AverageSpeedKph,
			Hour:                 rec.Hour,
		})
	}

	fresh := lo.Filter(lo.UniqBy(candidates, timing.Lap.Key), func(l timing.Lap, _ int) bool {
		return !existing[l.Key()]
	})
	inserted, err := rc.tx.InsertLaps(ctx, fresh)
	if err != nil {
		return err
	}
	rc.report.LapsInserted += inserted
	rc.report.LapsSkipped += len(candidates) - inserted
	return nil
}

func preconditionError(source string, rec timing.LapRecord, reason string) timing.RowError {
	return timing.RowError{
		Source: source,
		Line:   rec.Line,
		Reason: reason,
		Data:   rec.Raw,
		Err:    timing.ErrReferentialPrecondition,
	}
}
