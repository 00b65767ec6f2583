package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/JonMunkholm/laptiming/internal/store"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

// testContract exercises behaviour every Store implementation must share.
// newStore must return an empty store.
func testContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("jobs", func(t *testing.T) { testJobs(t, newStore(t)) })
	t.Run("series", func(t *testing.T) { testSeries(t, newStore(t)) })
	t.Run("find or create", func(t *testing.T) { testFindOrCreate(t, newStore(t)) })
	t.Run("concurrent find or create", func(t *testing.T) { testConcurrentFindOrCreate(t, newStore(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("laps", func(t *testing.T) { testLaps(t, newStore(t)) })
	t.Run("event laps", func(t *testing.T) { testEventLaps(t, newStore(t)) })
}

func newJob(created time.Time) timing.ImportJob {
	return timing.ImportJob{
		ID:        uuid.NewString(),
		SourceURL: "https://example.com/race42/results.csv",
		Kind:      timing.KindResults,
		Importer:  timing.ImporterWEC,
		State:     timing.JobPending,
		CreatedAt: created,
		Request: timing.ImportRequest{
			SourceURL: "https://example.com/race42/results.csv",
			Kind:      timing.KindResults,
			Importer:  timing.ImporterWEC,
		},
	}
}

func testJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	first := newJob(base)
	second := newJob(base.Add(time.Second))
	assert.NilError(t, s.CreateJob(ctx, first))
	assert.NilError(t, s.CreateJob(ctx, second))

	got, err := s.GetJob(ctx, first.ID)
	assert.NilError(t, err)
	assert.Equal(t, got.State, timing.JobPending)
	assert.Equal(t, got.Request.SourceURL, first.SourceURL)
	assert.Assert(t, got.CreatedAt.Equal(base))

	_, err = s.GetJob(ctx, uuid.NewString())
	assert.Assert(t, errors.Is(err, timing.ErrNotFound))
	_, err = s.GetJob(ctx, "not-a-uuid")
	assert.Assert(t, errors.Is(err, timing.ErrNotFound))

	started := base.Add(2 * time.Second)
	first.State = timing.JobStarted
	first.StartedAt = &started
	assert.NilError(t, s.UpdateJob(ctx, first, timing.JobPending))

	// A second writer still expecting pending loses.
	err = s.UpdateJob(ctx, first, timing.JobPending)
	assert.Assert(t, errors.Is(err, timing.ErrInvalidStateTransition), "got %v", err)

	first.State = timing.JobCompleted
	first.Summary = timing.ImportSummary{Created: 3, LapsInserted: 10}
	completed := base.Add(5 * time.Second)
	first.CompletedAt = &completed
	assert.NilError(t, s.UpdateJob(ctx, first, timing.JobStarted))

	got, err = s.GetJob(ctx, first.ID)
	assert.NilError(t, err)
	assert.Equal(t, got.State, timing.JobCompleted)
	assert.Equal(t, got.Summary.LapsInserted, 10)
	assert.Equal(t, got.Duration(), 3*time.Second)

	jobs, err := s.ListJobs(ctx, 10)
	assert.NilError(t, err)
	assert.Assert(t, is.Len(jobs, 2))
	assert.Equal(t, jobs[0].ID, second.ID, "newest first")

	jobs, err = s.ListJobs(ctx, 1)
	assert.NilError(t, err)
	assert.Assert(t, is.Len(jobs, 1))

	jobs, err = s.ListJobs(ctx, 0, timing.JobPending, timing.JobStarted)
	assert.NilError(t, err)
	assert.Assert(t, is.Len(jobs, 1))
	assert.Equal(t, jobs[0].ID, second.ID)

	counts, err := s.CountJobsByState(ctx)
	assert.NilError(t, err)
	assert.DeepEqual(t, counts, map[timing.JobState]int{
		timing.JobPending: 1, timing.JobStarted: 0, timing.JobCompleted: 1, timing.JobFailed: 0,
	})
}

func testSeries(t *testing.T, s store.Store) {
	ctx := context.Background()

	wec, err := s.CreateSeries(ctx, timing.Series{Name: "WEC", Description: "World Endurance Championship"})
	assert.NilError(t, err)
	assert.Assert(t, wec.ID > 0)

	_, err = s.CreateSeries(ctx, timing.Series{Name: "WEC"})
	assert.Assert(t, errors.Is(err, timing.ErrResourceExists), "got %v", err)

	imsa, err := s.CreateSeries(ctx, timing.Series{Name: "IMSA"})
	assert.NilError(t, err)

	all, err := s.ListSeries(ctx)
	assert.NilError(t, err)
	assert.DeepEqual(t, []string{all[0].Name, all[1].Name}, []string{"IMSA", "WEC"})

	err = s.InTx(ctx, func(tx store.Tx) error {
		for _, e := range []timing.Event{
			{SeriesID: wec.ID, Year: 2023, Name: "6 Hours of Spa"},
			{SeriesID: wec.ID, Year: 2024, Name: "6 Hours of Spa"},
			{SeriesID: wec.ID, Year: 2024, Name: "24 Hours of Le Mans"},
			{SeriesID: imsa.ID, Year: 2024, Name: "Rolex 24"},
		} {
			if _, _, err := tx.FindOrCreateEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	assert.NilError(t, err)

	years, err := s.ListSeriesYears(ctx, wec.ID)
	assert.NilError(t, err)
	assert.DeepEqual(t, years, []int{2024, 2023})

	events, err := s.ListEvents(ctx, wec.ID, 2024)
	assert.NilError(t, err)
	assert.Assert(t, is.Len(events, 2))
	assert.Equal(t, events[0].Name, "6 Hours of Spa")

	_, err = s.ListSeriesYears(ctx, wec.ID+imsa.ID+100)
	assert.Assert(t, errors.Is(err, timing.ErrNotFound))
}

func testFindOrCreate(t *testing.T, s store.Store) {
	ctx := context.Background()
	series, err := s.CreateSeries(ctx, timing.Series{Name: "WEC"})
	assert.NilError(t, err)

	var firstDriver timing.Driver
	err = s.InTx(ctx, func(tx store.Tx) error {
		d, created, err := tx.FindOrCreateDriver(ctx, timing.Driver{FirstName: "Mike", LastName: "CONWAY"})
		assert.NilError(t, err)
		assert.Assert(t, created)
		firstDriver = d

		again, created, err := tx.FindOrCreateDriver(ctx, timing.Driver{FirstName: "mike", LastName: "Conway"})
		assert.NilError(t, err)
		assert.Assert(t, !created, "driver identity is case-insensitive")
		assert.Equal(t, again.ID, d.ID)

		other, created, err := tx.FindOrCreateDriver(ctx, timing.Driver{FirstName: "Mike", LastName: "CONWAY", ExternalRef: "wec-7"})
		assert.NilError(t, err)
		assert.Assert(t, created, "external ref is part of the key")
		assert.Assert(t, other.ID != d.ID)

		class1, created, err := tx.FindOrCreateClass(ctx, series.ID, "HYPERCAR")
		assert.NilError(t, err)
		assert.Assert(t, created)
		class2, created, err := tx.FindOrCreateClass(ctx, series.ID, "HYPERCAR")
		assert.NilError(t, err)
		assert.Assert(t, !created)
		assert.Equal(t, class1.ID, class2.ID)
		return nil
	})
	assert.NilError(t, err)

	got, err := s.GetDriver(ctx, firstDriver.ID)
	assert.NilError(t, err)
	assert.Equal(t, got.FullName(), "Mike CONWAY")

	_, err = s.GetDriver(ctx, firstDriver.ID+1000)
	assert.Assert(t, errors.Is(err, timing.ErrNotFound))
}

// testConcurrentFindOrCreate holds each transaction open after the lookup so
// inserts of the same key overlap and wait on each other's commit.
func testConcurrentFindOrCreate(t *testing.T, s store.Store) {
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[int64]int{}
		created int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx store.Tx) error {
				d, c, err := tx.FindOrCreateDriver(ctx, timing.Driver{FirstName: "Sébastien", LastName: "BUEMI"})
				if err != nil {
					return err
				}
				time.Sleep(20 * time.Millisecond)
				mu.Lock()
				ids[d.ID]++
				if c {
					created++
				}
				mu.Unlock()
				return nil
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Assert(t, is.Len(errs, 0), "errors: %v", errs)
	assert.Equal(t, len(ids), 1)
	for _, n := range ids {
		assert.Equal(t, n, workers)
	}
	assert.Equal(t, created, 1)
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	series, err := s.CreateSeries(ctx, timing.Series{Name: "WEC"})
	assert.NilError(t, err)

	boom := errors.New("boom")
	err = s.InTx(ctx, func(tx store.Tx) error {
		if _, _, err := tx.FindOrCreateEvent(ctx, timing.Event{SeriesID: series.ID, Year: 2024, Name: "Qatar"}); err != nil {
			return err
		}
		return boom
	})
	assert.Assert(t, err != nil)

	err = s.InTx(ctx, func(tx store.Tx) error {
		_, found, err := tx.FindEvent(ctx, series.ID, "Qatar", 2024)
		assert.NilError(t, err)
		assert.Assert(t, !found, "event survived a rolled back transaction")
		return nil
	})
	assert.NilError(t, err)
}

// seedSession creates one session with one car, one driver holding a result,
// and returns their ids.
func seedSession(t *testing.T, s store.Store, seriesName string, year int) (sessionID, carID, driverID int64) {
	t.Helper()
	ctx := context.Background()
	series, err := s.CreateSeries(ctx, timing.Series{Name: seriesName})
	assert.NilError(t, err)

	err = s.InTx(ctx, func(tx store.Tx) error {
		event, _, err := tx.FindOrCreateEvent(ctx, timing.Event{SeriesID: series.ID, Year: year, Name: "Race " + seriesName})
		if err != nil {
			return err
		}
		session, _, err := tx.FindOrCreateSession(ctx, timing.Session{EventID: event.ID, Type: timing.SessionRace, Name: "Race"})
		if err != nil {
			return err
		}
		team, _, err := tx.FindOrCreateTeam(ctx, "Toyota Gazoo Racing")
		if err != nil {
			return err
		}
		car, _, err := tx.FindOrCreateCarEntry(ctx, timing.CarEntry{SessionID: session.ID, Number: "7", TeamID: &team.ID})
		if err != nil {
			return err
		}
		driver, _, err := tx.FindOrCreateDriver(ctx, timing.Driver{FirstName: "Kamui", LastName: "KOBAYASHI"})
		if err != nil {
			return err
		}
		if _, _, err := tx.FindOrCreateCarDriver(ctx, timing.CarDriver{CarEntryID: car.ID, DriverID: driver.ID, DriverNumber: 1}); err != nil {
			return err
		}
		if _, _, err := tx.FindOrCreateResult(ctx, timing.Result{SessionID: session.ID, DriverID: driver.ID, CarEntryID: &car.ID, FinishPosition: 1}); err != nil {
			return err
		}
		sessionID, carID, driverID = session.ID, car.ID, driver.ID
		return nil
	})
	assert.NilError(t, err)
	return sessionID, carID, driverID
}

func testLaps(t *testing.T, s store.Store) {
	ctx := context.Background()
	sessionID, carID, driverID := seedSession(t, s, "WEC", 2024)

	lap := func(n int, ms int64, flags timing.LapFlags) timing.Lap {
		return timing.Lap{SessionID: sessionID, DriverID: driverID, CarEntryID: carID, LapNumber: n, LapTimeMillis: ms, Flags: flags}
	}

	err := s.InTx(ctx, func(tx store.Tx) error {
		n, err := tx.InsertLaps(ctx, []timing.Lap{
			lap(1, 61200, 0),
			lap(2, 0, timing.LapInvalid),
			lap(3, 60500, timing.LapPitIn),
			lap(4, 62000, 0),
		})
		assert.NilError(t, err)
		assert.Equal(t, n, 4)

		keys, err := tx.LapKeys(ctx, sessionID)
		assert.NilError(t, err)
		assert.Assert(t, keys[timing.LapKey{SessionID: sessionID, DriverID: driverID, LapNumber: 2}])

		drivers, err := tx.ResultDrivers(ctx, sessionID)
		assert.NilError(t, err)
		assert.Assert(t, drivers[driverID])

		cds, err := tx.CarDrivers(ctx, carID)
		assert.NilError(t, err)
		assert.Assert(t, is.Len(cds, 1))
		assert.Equal(t, cds[0].DriverID, driverID)
		return nil
	})
	assert.NilError(t, err)

	laps, err := s.DriverLaps(ctx, driverID, timing.FilterCriteria{})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(laps, 3), "invalid lap excluded")
	assert.DeepEqual(t, []int{laps[0].LapNumber, laps[1].LapNumber, laps[2].LapNumber}, []int{1, 3, 4})
	assert.Equal(t, laps[0].TeamName, "Toyota Gazoo Racing")
	assert.Equal(t, laps[0].CarNumber, "7")
	assert.Equal(t, laps[0].DriverName, "Kamui KOBAYASHI")
	assert.Equal(t, laps[0].Year, 2024)

	year := 2023
	laps, err = s.DriverLaps(ctx, driverID, timing.FilterCriteria{Year: &year})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(laps, 0))

	laps, err = s.DriverLaps(ctx, driverID, timing.FilterCriteria{SessionID: &sessionID})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(laps, 3))

	// No result for this driver: rejected by the store.
	err = s.InTx(ctx, func(tx store.Tx) error {
		stranger, _, err := tx.FindOrCreateDriver(ctx, timing.Driver{FirstName: "Nobody", LastName: "HERE"})
		if err != nil {
			return err
		}
		_, err = tx.InsertLaps(ctx, []timing.Lap{{SessionID: sessionID, DriverID: stranger.ID, CarEntryID: carID, LapNumber: 1, LapTimeMillis: 60000}})
		return err
	})
	assert.Assert(t, err != nil)
}

func testEventLaps(t *testing.T, s store.Store) {
	ctx := context.Background()
	sessionID, carID, driverID := seedSession(t, s, "WEC", 2024)

	var eventID, gt3ID, classID int64
	err := s.InTx(ctx, func(tx store.Tx) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		event, err := tx.GetEvent(ctx, session.EventID)
		if err != nil {
			return err
		}
		class, _, err := tx.FindOrCreateClass(ctx, event.SeriesID, "LMGT3")
		if err != nil {
			return err
		}
		model, _, err := tx.FindOrCreateCarModel(ctx, "Porsche 911 GT3 R")
		if err != nil {
			return err
		}
		car, _, err := tx.FindOrCreateCarEntry(ctx, timing.CarEntry{SessionID: sessionID, Number: "91", ClassID: &class.ID, CarModelID: &model.ID})
		if err != nil {
			return err
		}
		driver, _, err := tx.FindOrCreateDriver(ctx, timing.Driver{FirstName: "Richard", LastName: "LIETZ"})
		if err != nil {
			return err
		}
		if _, _, err := tx.FindOrCreateCarDriver(ctx, timing.CarDriver{CarEntryID: car.ID, DriverID: driver.ID, DriverNumber: 1}); err != nil {
			return err
		}
		if _, _, err := tx.FindOrCreateResult(ctx, timing.Result{SessionID: sessionID, DriverID: driver.ID, CarEntryID: &car.ID, FinishPosition: 2}); err != nil {
			return err
		}
		_, err = tx.InsertLaps(ctx, []timing.Lap{
			{SessionID: sessionID, DriverID: driverID, CarEntryID: carID, LapNumber: 1, LapTimeMillis: 61200},
			{SessionID: sessionID, DriverID: driverID, CarEntryID: carID, LapNumber: 2, Flags: timing.LapInvalid},
			{SessionID: sessionID, DriverID: driver.ID, CarEntryID: car.ID, LapNumber: 1, LapTimeMillis: 68000},
		})
		eventID, gt3ID, classID = event.ID, car.ID, class.ID
		return err
	})
	assert.NilError(t, err)

	event, err := s.GetEvent(ctx, eventID)
	assert.NilError(t, err)
	assert.Equal(t, event.Name, "Race WEC")

	_, err = s.GetEvent(ctx, eventID+999)
	assert.Assert(t, errors.Is(err, timing.ErrNotFound))

	laps, err := s.EventLaps(ctx, eventID, timing.EventLapFilter{})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(laps, 2), "invalid lap excluded")
	assert.Equal(t, laps[0].DriverID, driverID)
	assert.Assert(t, laps[0].ClassID == nil)
	assert.Equal(t, laps[1].CarNumber, "91")
	assert.Equal(t, laps[1].ClassName, "LMGT3")
	assert.Equal(t, laps[1].CarModel, "Porsche 911 GT3 R")
	assert.Equal(t, laps[1].TeamName, "")

	laps, err = s.EventLaps(ctx, eventID, timing.EventLapFilter{ClassID: &classID})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(laps, 1))
	assert.Equal(t, laps[0].CarEntryID, gt3ID)

	laps, err = s.EventLaps(ctx, eventID, timing.EventLapFilter{CarEntryID: &carID, SessionID: &sessionID})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(laps, 1))
	assert.Equal(t, laps[0].DriverID, driverID)

	laps, err = s.EventLaps(ctx, eventID+999, timing.EventLapFilter{})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(laps, 0))
}
