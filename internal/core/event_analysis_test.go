package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/laptiming/internal/store"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

type eventFixture struct {
	store   *store.Memory
	eventID int64
	ids     map[string]int64 // "class:X", "session:X", "car:session/number", "driver:LAST"
}

func newEventFixture(t *testing.T) *eventFixture {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()
	series, err := st.CreateSeries(ctx, timing.Series{Name: "FIA WEC"})
	require.NoError(t, err)

	f := &eventFixture{store: st, ids: map[string]int64{}}
	err = st.InTx(ctx, func(tx store.Tx) error {
		ev, _, err := tx.FindOrCreateEvent(ctx, timing.Event{SeriesID: series.ID, Year: 2024, Name: "6 Hours of Spa"})
		f.eventID = ev.ID
		return err
	})
	require.NoError(t, err)
	return f
}

// addCar stores one car with a single driver and the given lap times in
// session. A zero time stores an invalid lap.
func (f *eventFixture) addCar(t *testing.T, session, number, class, model, first, last string, times ...int64) {
	t.Helper()
	ctx := context.Background()

	err := f.store.InTx(ctx, func(tx store.Tx) error {
		ev, err := tx.GetEvent(ctx, f.eventID)
		if err != nil {
			return err
		}
		sess, _, err := tx.FindOrCreateSession(ctx, timing.Session{EventID: ev.ID, Type: timing.SessionRace, Name: session})
		if err != nil {
			return err
		}
		cls, _, err := tx.FindOrCreateClass(ctx, ev.SeriesID, class)
		if err != nil {
			return err
		}
		cm, _, err := tx.FindOrCreateCarModel(ctx, model)
		if err != nil {
			return err
		}
		car, _, err := tx.FindOrCreateCarEntry(ctx, timing.CarEntry{SessionID: sess.ID, Number: number, ClassID: &cls.ID, CarModelID: &cm.ID})
		if err != nil {
			return err
		}
		driver, _, err := tx.FindOrCreateDriver(ctx, timing.Driver{FirstName: first, LastName: last})
		if err != nil {
			return err
		}
		if _, _, err := tx.FindOrCreateCarDriver(ctx, timing.CarDriver{CarEntryID: car.ID, DriverID: driver.ID, DriverNumber: 1}); err != nil {
			return err
		}
		carID := car.ID
		if _, _, err := tx.FindOrCreateResult(ctx, timing.Result{SessionID: sess.ID, DriverID: driver.ID, CarEntryID: &carID}); err != nil {
			return err
		}

		laps := make([]timing.Lap, 0, len(times))
		for i, ms := range times {
			lap := timing.Lap{SessionID: sess.ID, DriverID: driver.ID, CarEntryID: car.ID, LapNumber: i + 1, LapTimeMillis: ms}
			if ms == 0 {
				lap.Flags = timing.LapInvalid
			}
			laps = append(laps, lap)
		}
		if _, err := tx.InsertLaps(ctx, laps); err != nil {
			return err
		}

		f.ids["class:"+class] = cls.ID
		f.ids["session:"+session] = sess.ID
		f.ids["car:"+session+"/"+number] = car.ID
		f.ids["driver:"+last] = driver.ID
		return nil
	})
	require.NoError(t, err)
}

// spa seeds two hypercars and one GT3 in the race, plus a qualifying lap.
func spa(t *testing.T) *eventFixture {
	f := newEventFixture(t)
	f.addCar(t, "Race", "7", "HYPERCAR", "Toyota GR010", "Mike", "CONWAY", 60000, 61000, 0, 62000, 63000)
	f.addCar(t, "Race", "50", "HYPERCAR", "Ferrari 499P", "Antonio", "FUOCO", 60500, 60700)
	f.addCar(t, "Race", "91", "LMGT3", "Porsche 911 GT3 R", "Richard", "LIETZ", 68000, 69000, 70000)
	f.addCar(t, "Qualifying", "7", "HYPERCAR", "Toyota GR010", "Mike", "CONWAY", 59000)
	return f
}

func driverNames(stats []timing.DriverLapStats) []string {
	out := make([]string, len(stats))
	for i, s := range stats {
		out[i] = s.DriverName
	}
	return out
}

func TestEventLapAnalysis_Overall(t *testing.T) {
	f := spa(t)
	a := NewAnalyzer(f.store)

	got, err := a.EventLapAnalysis(context.Background(), f.eventID, 20, timing.EventLapFilter{}, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, f.eventID, got.EventID)
	assert.Equal(t, timing.NewLapStats(59500, 59000, 61500, 10, 2), got.Overall)
	assert.Equal(t, "0:59.500", got.Overall.AverageLapTime)
	assert.Equal(t, "1:01.500", got.Overall.MedianLapTime)
	assert.Equal(t, 3, got.DriverCount)
	assert.Equal(t, []string{"Mike CONWAY", "Antonio FUOCO", "Richard LIETZ"}, driverNames(got.Drivers))
}

func TestEventLapAnalysis_PerDriver(t *testing.T) {
	f := spa(t)
	a := NewAnalyzer(f.store)

	got, err := a.EventLapAnalysis(context.Background(), f.eventID, 20, timing.EventLapFilter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, got.Drivers, 3)

	conway := got.Drivers[0]
	assert.Equal(t, f.ids["driver:CONWAY"], conway.DriverID)
	assert.Equal(t, timing.NewLapStats(59000, 59000, 61000, 5, 1), conway.LapStats, "both sessions, invalid lap skipped")
	assert.Equal(t, f.ids["car:Race/7"], conway.CarEntryID, "car of the first lap")
	assert.Equal(t, "7", conway.CarNumber)
	assert.Equal(t, "Toyota GR010", conway.CarModel)
	assert.Equal(t, "HYPERCAR", conway.ClassName)
	assert.Equal(t, timing.UnknownTeam, conway.TeamName)

	fuoco := got.Drivers[1]
	assert.Equal(t, timing.NewLapStats(60500, 60500, 60600, 2, 1), fuoco.LapStats)

	lietz := got.Drivers[2]
	assert.Equal(t, timing.NewLapStats(68000, 68000, 69000, 3, 1), lietz.LapStats)
	assert.Equal(t, "LMGT3", lietz.ClassName)
}

func TestEventLapAnalysis_Filters(t *testing.T) {
	f := spa(t)
	a := NewAnalyzer(f.store)
	ptr := func(v int64) *int64 { return &v }

	tests := []struct {
		name        string
		filter      timing.EventLapFilter
		wantOverall timing.LapStats
		wantDrivers []string
	}{
		{
			name:        "class",
			filter:      timing.EventLapFilter{ClassID: ptr(f.ids["class:HYPERCAR"])},
			wantOverall: timing.NewLapStats(59500, 59000, 60700, 7, 2),
			wantDrivers: []string{"Mike CONWAY", "Antonio FUOCO"},
		},
		{
			name:        "session",
			filter:      timing.EventLapFilter{SessionID: ptr(f.ids["session:Race"])},
			wantOverall: timing.NewLapStats(60250, 60000, 62000, 9, 2),
			wantDrivers: []string{"Mike CONWAY", "Antonio FUOCO", "Richard LIETZ"},
		},
		{
			name:        "car",
			filter:      timing.EventLapFilter{CarEntryID: ptr(f.ids["car:Race/50"])},
			wantOverall: timing.NewLapStats(60500, 60500, 60600, 2, 1),
			wantDrivers: []string{"Antonio FUOCO"},
		},
		{
			name:        "class and car disagree",
			filter:      timing.EventLapFilter{ClassID: ptr(f.ids["class:LMGT3"]), CarEntryID: ptr(f.ids["car:Race/50"])},
			wantOverall: timing.NewLapStats(0, 0, 0, 0, 0),
			wantDrivers: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.EventLapAnalysis(context.Background(), f.eventID, 20, tt.filter, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOverall, got.Overall)
			assert.Equal(t, tt.wantDrivers, driverNames(got.Drivers))
			assert.Equal(t, tt.filter, got.Filter)
		})
	}
}

func TestEventLapAnalysis_Paging(t *testing.T) {
	f := spa(t)
	a := NewAnalyzer(f.store)
	ctx := context.Background()

	got, err := a.EventLapAnalysis(ctx, f.eventID, 20, timing.EventLapFilter{}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Antonio FUOCO"}, driverNames(got.Drivers))
	assert.Equal(t, 3, got.DriverCount)
	assert.Equal(t, 10, got.Overall.TotalLapCount, "paging leaves overall figures alone")

	got, err = a.EventLapAnalysis(ctx, f.eventID, 20, timing.EventLapFilter{}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, got.Drivers)
	assert.NotNil(t, got.Drivers)
}

func TestEventLapAnalysis_EmptyEvent(t *testing.T) {
	f := newEventFixture(t)
	a := NewAnalyzer(f.store)

	got, err := a.EventLapAnalysis(context.Background(), f.eventID, 20, timing.EventLapFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "0:00.000", got.Overall.AverageLapTime)
	assert.Equal(t, "0:00.000", got.Overall.FastestLapTime)
	assert.Equal(t, "0:00.000", got.Overall.MedianLapTime)
	assert.Zero(t, got.Overall.TotalLapCount)
	assert.NotNil(t, got.Drivers)
	assert.Empty(t, got.Drivers)
}

func TestEventLapAnalysis_Errors(t *testing.T) {
	f := spa(t)
	a := NewAnalyzer(f.store)
	ctx := context.Background()

	_, err := a.EventLapAnalysis(ctx, f.eventID+999, 20, timing.EventLapFilter{}, 0, 0)
	assert.ErrorIs(t, err, timing.ErrNotFound)

	for _, pct := range []float64{0, -5, 100.5} {
		_, err := a.EventLapAnalysis(ctx, f.eventID, pct, timing.EventLapFilter{}, 0, 0)
		assert.ErrorIs(t, err, timing.ErrInvalidArgument, "percentage %v", pct)
	}

	_, err = a.EventLapAnalysis(ctx, f.eventID, 20, timing.EventLapFilter{}, -1, 0)
	assert.ErrorIs(t, err, timing.ErrInvalidArgument)
}
