package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/JonMunkholm/laptiming/internal/timing"
)

// Memory is an in-process Store. Transactions run against a copy of the
// timing tables that replaces the live copy only when fn succeeds, so a
// failed reconcile leaves nothing behind. Transactions are serialised.
type Memory struct {
	mu    sync.Mutex
	state *memState
	jobs  map[string]timing.ImportJob
}

var _ Store = (*Memory)(nil)

type carDriverKey struct {
	carEntryID   int64
	driverNumber int
}

type memState struct {
	nextID     int64
	series     map[int64]timing.Series
	circuits   map[int64]timing.Circuit
	events     map[int64]timing.Event
	sessions   map[int64]timing.Session
	teams      map[int64]timing.Team
	classes    map[int64]timing.CarClass
	models     map[int64]timing.CarModel
	entries    map[int64]timing.CarEntry
	drivers    map[int64]timing.Driver
	carDrivers map[carDriverKey]timing.CarDriver
	results    map[int64]timing.Result
	laps       []timing.Lap
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		state: &memState{
			series:     map[int64]timing.Series{},
			circuits:   map[int64]timing.Circuit{},
			events:     map[int64]timing.Event{},
			sessions:   map[int64]timing.Session{},
			teams:      map[int64]timing.Team{},
			classes:    map[int64]timing.CarClass{},
			models:     map[int64]timing.CarModel{},
			entries:    map[int64]timing.CarEntry{},
			drivers:    map[int64]timing.Driver{},
			carDrivers: map[carDriverKey]timing.CarDriver{},
			results:    map[int64]timing.Result{},
		},
		jobs: map[string]timing.ImportJob{},
	}
}

func (s *memState) clone() *memState {
	return &memState{
		nextID:     s.nextID,
		series:     maps.Clone(s.series),
		circuits:   maps.Clone(s.circuits),
		events:     maps.Clone(s.events),
		sessions:   maps.Clone(s.sessions),
		teams:      maps.Clone(s.teams),
		classes:    maps.Clone(s.classes),
		models:     maps.Clone(s.models),
		entries:    maps.Clone(s.entries),
		drivers:    maps.Clone(s.drivers),
		carDrivers: maps.Clone(s.carDrivers),
		results:    maps.Clone(s.results),
		laps:       slices.Clone(s.laps),
	}
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) InTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: transaction: %v", timing.ErrStoreUnavailable, err)
	}
	work := m.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// ---------------------------------------------------------------------------
// Import jobs
// ---------------------------------------------------------------------------

func (m *Memory) CreateJob(_ context.Context, job timing.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s", timing.ErrResourceExists, job.ID)
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) UpdateJob(_ context.Context, job timing.ImportJob, expected timing.JobState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.jobs[job.ID]
	if !ok {
		return fmt.Errorf("%w: job %s", timing.ErrNotFound, job.ID)
	}
	if current.State != expected {
		return fmt.Errorf("%w: job %s is %s, expected %s", timing.ErrInvalidStateTransition, job.ID, current.State, expected)
	}
	// Identity columns are immutable.
	job.CreatedAt = current.CreatedAt
	job.Request = current.Request
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (timing.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return timing.ImportJob{}, fmt.Errorf("%w: job %s", timing.ErrNotFound, id)
	}
	return job, nil
}

func (m *Memory) ListJobs(_ context.Context, limit int, states ...timing.JobState) ([]timing.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := lo.Filter(lo.Values(m.jobs), func(j timing.ImportJob, _ int) bool {
		return len(states) == 0 || lo.Contains(states, j.State)
	})
	slices.SortFunc(jobs, func(a, b timing.ImportJob) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *Memory) CountJobsByState(_ context.Context) (map[timing.JobState]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[timing.JobState]int, len(timing.AllJobStates))
	for _, s := range timing.AllJobStates {
		counts[s] = 0
	}
	for _, j := range m.jobs {
		counts[j.State]++
	}
	return counts, nil
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

func (m *Memory) CreateSeries(_ context.Context, s timing.Series) (timing.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.state.series {
		if existing.Name == s.Name {
			return timing.Series{}, fmt.Errorf("%w: series %q", timing.ErrResourceExists, s.Name)
		}
	}
	s.ID = m.state.id()
	m.state.series[s.ID] = s
	return s, nil
}

func (m *Memory) GetSeries(_ context.Context, id int64) (timing.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.getSeries(id)
}

func (m *Memory) ListSeries(_ context.Context) ([]timing.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	series := lo.Values(m.state.series)
	slices.SortFunc(series, func(a, b timing.Series) int { return strings.Compare(a.Name, b.Name) })
	return series, nil
}

func (m *Memory) ListSeriesYears(_ context.Context, seriesID int64) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.state.getSeries(seriesID); err != nil {
		return nil, err
	}
	years := lo.Uniq(lo.FilterMap(lo.Values(m.state.events), func(e timing.Event, _ int) (int, bool) {
		return e.Year, e.SeriesID == seriesID
	}))
	slices.SortFunc(years, func(a, b int) int { return cmp.Compare(b, a) })
	return years, nil
}

func (m *Memory) ListEvents(_ context.Context, seriesID int64, year int) ([]timing.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.state.getSeries(seriesID); err != nil {
		return nil, err
	}
	events := lo.Filter(lo.Values(m.state.events), func(e timing.Event, _ int) bool {
		return e.SeriesID == seriesID && e.Year == year
	})
	slices.SortFunc(events, func(a, b timing.Event) int { return cmp.Compare(a.ID, b.ID) })
	return events, nil
}

func (m *Memory) GetDriver(_ context.Context, id int64) (timing.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.state.drivers[id]
	if !ok {
		return timing.Driver{}, fmt.Errorf("%w: driver %d", timing.ErrNotFound, id)
	}
	return d, nil
}

func (m *Memory) GetEvent(_ context.Context, id int64) (timing.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.getEvent(id)
}

func (s *memState) getEvent(id int64) (timing.Event, error) {
	e, ok := s.events[id]
	if !ok {
		return timing.Event{}, fmt.Errorf("%w: event %d", timing.ErrNotFound, id)
	}
	return e, nil
}

func (s *memState) getSeries(id int64) (timing.Series, error) {
	series, ok := s.series[id]
	if !ok {
		return timing.Series{}, fmt.Errorf("%w: series %d", timing.ErrNotFound, id)
	}
	return series, nil
}

// ---------------------------------------------------------------------------
// Analysis
// ---------------------------------------------------------------------------

func (m *Memory) DriverLaps(_ context.Context, driverID int64, f timing.FilterCriteria) ([]timing.DriverLap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.validLaps(func(dl timing.DriverLap) bool {
		return dl.DriverID == driverID && f.Matches(dl)
	}), nil
}

func (m *Memory) EventLaps(_ context.Context, eventID int64, f timing.EventLapFilter) ([]timing.DriverLap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.validLaps(func(dl timing.DriverLap) bool {
		return dl.EventID == eventID && f.Matches(dl)
	}), nil
}

// validLaps joins every valid lap with its context and keeps those passing
// keep. laps are stored in id order.
func (s *memState) validLaps(keep func(timing.DriverLap) bool) []timing.DriverLap {
	out := []timing.DriverLap{}
	for _, l := range s.laps {
		if !l.Valid() {
			continue
		}
		if dl := s.lapContext(l); keep(dl) {
			out = append(out, dl)
		}
	}
	return out
}

func (s *memState) lapContext(l timing.Lap) timing.DriverLap {
	sess := s.sessions[l.SessionID]
	event := s.events[sess.EventID]
	entry := s.entries[l.CarEntryID]

	dl := timing.DriverLap{
		Lap:         l,
		EventID:     event.ID,
		SeriesID:    event.SeriesID,
		Year:        event.Year,
		EventName:   event.Name,
		SessionName: sess.Name,
		CarNumber:   entry.Number,
		DriverName:  s.drivers[l.DriverID].FullName(),
		ClassID:     entry.ClassID,
	}
	if entry.TeamID != nil {
		dl.TeamName = s.teams[*entry.TeamID].Name
	}
	if entry.ClassID != nil {
		dl.ClassName = s.classes[*entry.ClassID].Name
	}
	if entry.CarModelID != nil {
		dl.CarModel = s.models[*entry.CarModelID].Name
	}
	return dl
}

// ---------------------------------------------------------------------------
// Transaction
// ---------------------------------------------------------------------------

type memTx struct {
	s *memState
}

// findOrCreate returns the first value in m matching match, or stores the
// value built by create under a fresh id.
func findOrCreate[T any](s *memState, m map[int64]T, match func(T) bool, create func(id int64) T) (T, bool) {
	ids := slices.Sorted(maps.Keys(m))
	for _, id := range ids {
		if match(m[id]) {
			return m[id], false
		}
	}
	id := s.id()
	v := create(id)
	m[id] = v
	return v, true
}

func (t *memTx) GetSeries(_ context.Context, id int64) (timing.Series, error) {
	return t.s.getSeries(id)
}

func (t *memTx) GetEvent(_ context.Context, id int64) (timing.Event, error) {
	return t.s.getEvent(id)
}

func (t *memTx) GetSession(_ context.Context, id int64) (timing.Session, error) {
	s, ok := t.s.sessions[id]
	if !ok {
		return timing.Session{}, fmt.Errorf("%w: session %d", timing.ErrNotFound, id)
	}
	return s, nil
}

func (t *memTx) FindSession(_ context.Context, eventID int64, name string) (timing.Session, bool, error) {
	s, ok := lo.Find(lo.Values(t.s.sessions), func(s timing.Session) bool {
		return s.EventID == eventID && s.Name == name
	})
	return s, ok, nil
}

func (t *memTx) FindEvent(_ context.Context, seriesID int64, name string, year int) (timing.Event, bool, error) {
	e, ok := lo.Find(lo.Values(t.s.events), func(e timing.Event) bool {
		return e.SeriesID == seriesID && e.Name == name && e.Year == year
	})
	return e, ok, nil
}

func (t *memTx) FindOrCreateCircuit(_ context.Context, name string) (timing.Circuit, bool, error) {
	c, created := findOrCreate(t.s, t.s.circuits,
		func(c timing.Circuit) bool { return c.Name == name },
		func(id int64) timing.Circuit { return timing.Circuit{ID: id, Name: name} })
	return c, created, nil
}

func (t *memTx) FindOrCreateEvent(_ context.Context, e timing.Event) (timing.Event, bool, error) {
	if _, ok := t.s.series[e.SeriesID]; !ok {
		return timing.Event{}, false, fmt.Errorf("%w: series %d", timing.ErrNotFound, e.SeriesID)
	}
	out, created := findOrCreate(t.s, t.s.events,
		func(x timing.Event) bool { return x.SeriesID == e.SeriesID && x.Year == e.Year && x.Name == e.Name },
		func(id int64) timing.Event {
			e.ID = id
			return e
		})
	return out, created, nil
}

func (t *memTx) FindOrCreateSession(_ context.Context, s timing.Session) (timing.Session, bool, error) {
	if _, ok := t.s.events[s.EventID]; !ok {
		return timing.Session{}, false, fmt.Errorf("%w: event %d", timing.ErrNotFound, s.EventID)
	}
	out, created := findOrCreate(t.s, t.s.sessions,
		func(x timing.Session) bool { return x.EventID == s.EventID && x.Name == s.Name },
		func(id int64) timing.Session {
			s.ID = id
			return s
		})
	return out, created, nil
}

func (t *memTx) FindOrCreateTeam(_ context.Context, name string) (timing.Team, bool, error) {
	team, created := findOrCreate(t.s, t.s.teams,
		func(x timing.Team) bool { return x.Name == name },
		func(id int64) timing.Team { return timing.Team{ID: id, Name: name} })
	return team, created, nil
}

func (t *memTx) FindOrCreateClass(_ context.Context, seriesID int64, name string) (timing.CarClass, bool, error) {
	c, created := findOrCreate(t.s, t.s.classes,
		func(x timing.CarClass) bool { return x.SeriesID == seriesID && x.Name == name },
		func(id int64) timing.CarClass { return timing.CarClass{ID: id, SeriesID: seriesID, Name: name} })
	return c, created, nil
}

func (t *memTx) FindOrCreateCarModel(_ context.Context, name string) (timing.CarModel, bool, error) {
	cm, created := findOrCreate(t.s, t.s.models,
		func(x timing.CarModel) bool { return x.Name == name },
		func(id int64) timing.CarModel { return timing.CarModel{ID: id, Name: name} })
	return cm, created, nil
}

func (t *memTx) FindOrCreateCarEntry(_ context.Context, e timing.CarEntry) (timing.CarEntry, bool, error) {
	if _, ok := t.s.sessions[e.SessionID]; !ok {
		return timing.CarEntry{}, false, fmt.Errorf("%w: session %d", timing.ErrNotFound, e.SessionID)
	}
	out, created := findOrCreate(t.s, t.s.entries,
		func(x timing.CarEntry) bool { return x.SessionID == e.SessionID && x.Number == e.Number },
		func(id int64) timing.CarEntry {
			e.ID = id
			return e
		})
	return out, created, nil
}

func (t *memTx) FindOrCreateDriver(_ context.Context, d timing.Driver) (timing.Driver, bool, error) {
	key := d.NaturalKey()
	out, created := findOrCreate(t.s, t.s.drivers,
		func(x timing.Driver) bool { return x.NaturalKey() == key },
		func(id int64) timing.Driver {
			d.ID = id
			return d
		})
	return out, created, nil
}

func (t *memTx) FindOrCreateCarDriver(_ context.Context, cd timing.CarDriver) (timing.CarDriver, bool, error) {
	key := carDriverKey{carEntryID: cd.CarEntryID, driverNumber: cd.DriverNumber}
	if existing, ok := t.s.carDrivers[key]; ok {
		return existing, false, nil
	}
	t.s.carDrivers[key] = cd
	return cd, true, nil
}

func (t *memTx) FindOrCreateResult(_ context.Context, r timing.Result) (timing.Result, bool, error) {
	out, created := findOrCreate(t.s, t.s.results,
		func(x timing.Result) bool { return x.SessionID == r.SessionID && x.DriverID == r.DriverID },
		func(id int64) timing.Result {
			r.ID = id
			return r
		})
	return out, created, nil
}

func (t *memTx) FindCarEntry(_ context.Context, sessionID int64, number string) (timing.CarEntry, bool, error) {
	e, ok := lo.Find(lo.Values(t.s.entries), func(e timing.CarEntry) bool {
		return e.SessionID == sessionID && e.Number == number
	})
	return e, ok, nil
}

func (t *memTx) CarDrivers(_ context.Context, carEntryID int64) ([]timing.CarDriver, error) {
	out := lo.Filter(lo.Values(t.s.carDrivers), func(cd timing.CarDriver, _ int) bool {
		return cd.CarEntryID == carEntryID
	})
	slices.SortFunc(out, func(a, b timing.CarDriver) int { return cmp.Compare(a.DriverNumber, b.DriverNumber) })
	return out, nil
}

func (t *memTx) ResultDrivers(_ context.Context, sessionID int64) (map[int64]bool, error) {
	out := map[int64]bool{}
	for _, r := range t.s.results {
		if r.SessionID == sessionID {
			out[r.DriverID] = true
		}
	}
	return out, nil
}

func (t *memTx) LapKeys(_ context.Context, sessionID int64) (map[timing.LapKey]bool, error) {
	out := map[timing.LapKey]bool{}
	for _, l := range t.s.laps {
		if l.SessionID == sessionID {
			out[l.Key()] = true
		}
	}
	return out, nil
}

// InsertLaps enforces the same constraints as the lap table: a unique
// (session, driver, lap) key and an existing result for (session, driver).
func (t *memTx) InsertLaps(_ context.Context, laps []timing.Lap) (int, error) {
	existing := map[timing.LapKey]bool{}
	for _, l := range t.s.laps {
		existing[l.Key()] = true
	}
	for _, l := range laps {
		if existing[l.Key()] {
			return 0, fmt.Errorf("%w: lap %d for driver %d in session %d",
				timing.ErrResourceExists, l.LapNumber, l.DriverID, l.SessionID)
		}
		hasResult := lo.SomeBy(lo.Values(t.s.results), func(r timing.Result) bool {
			return r.SessionID == l.SessionID && r.DriverID == l.DriverID
		})
		if !hasResult {
			return 0, fmt.Errorf("%w: no result for driver %d in session %d",
				timing.ErrReferentialPrecondition, l.DriverID, l.SessionID)
		}
		existing[l.Key()] = true
	}
	for _, l := range laps {
		l.ID = t.s.id()
		t.s.laps = append(t.s.laps, l)
	}
	return len(laps), nil
}
