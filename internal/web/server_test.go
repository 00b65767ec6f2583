package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/laptiming/internal/config"
	"github.com/JonMunkholm/laptiming/internal/core"
	"github.com/JonMunkholm/laptiming/internal/fetch"
	"github.com/JonMunkholm/laptiming/internal/metrics"
	"github.com/JonMunkholm/laptiming/internal/store"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

const (
	resultsURL = "https://example.com/race42/results.csv"

	resultsBody = `POSITION;NUMBER;TEAM;DRIVER_1;DRIVER_2;VEHICLE;TYRES;STATUS;LAPS;CLASS
1;7;Toyota Gazoo Racing;Mike CONWAY;Kamui KOBAYASHI;Toyota GR010 - Hybrid;M;Classified;311;HYPERCAR
`
)

type testServer struct {
	srv      *Server
	store    *store.Memory
	metrics  *metrics.Manager
	seriesID int64
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
		Import: config.ImportConfig{JobListLimit: 50},
		Rate:   config.RateLimitConfig{Enabled: false},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	st := store.NewMemory()
	series, err := st.CreateSeries(context.Background(), timing.Series{Name: "FIA WEC"})
	require.NoError(t, err)

	m := metrics.NewManager()
	pool := core.NewWorkerPool(1, 4, core.WithPoolMetrics(m))
	svc := core.NewService(st, fetch.New(fetch.Config{}), pool, time.Minute, core.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Run(ctx)

	srv := NewServer(cfg, svc, core.NewAnalyzer(st), m)
	t.Cleanup(func() {
		srv.Close()
		_ = pool.Shutdown(context.Background())
		cancel()
	})
	return &testServer{srv: srv, store: st, metrics: m, seriesID: series.ID}
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	switch b := body.(type) {
	case nil:
		reader = strings.NewReader("")
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) importRequest() map[string]any {
	return map[string]any{
		"sourceUrl":    resultsURL,
		"reportKind":   "results",
		"importerType": "WEC",
		"seriesId":     ts.seriesID,
		"eventName":    "6 Hours of Spa",
		"year":         2024,
		"sessionName":  "Race",
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSubmitImport_Accepted(t *testing.T) {
	ts := newTestServer(t, testConfig())
	httpmock.RegisterResponder("GET", resultsURL, httpmock.NewStringResponder(http.StatusOK, resultsBody))

	rec := ts.do(t, http.MethodPost, "/imports", ts.importRequest())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode[SubmitResponse](t, rec)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, timing.JobPending, resp.State)

	var job JobResponse
	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/imports/"+resp.JobID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		job = decode[JobResponse](t, rec)
		return job.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, timing.JobCompleted, job.State)
	assert.Equal(t, resultsURL, job.SourceURL)
	assert.Positive(t, job.Summary.Created)
	assert.GreaterOrEqual(t, job.DurationMs, int64(0))

	// A completed job reports "error": null rather than omitting the key.
	raw := decode[map[string]any](t, ts.do(t, http.MethodGet, "/imports/"+resp.JobID, nil))
	errVal, ok := raw["error"]
	assert.True(t, ok, "error key missing")
	assert.Nil(t, errVal)
}

func TestSubmitImport_BadRequests(t *testing.T) {
	ts := newTestServer(t, testConfig())

	missingURL := ts.importRequest()
	delete(missingURL, "sourceUrl")

	badKind := ts.importRequest()
	badKind["reportKind"] = "qualifying"

	tests := []struct {
		name     string
		body     any
		wantCode string
	}{
		{"malformed json", `{"sourceUrl":`, "IMP001"},
		{"unknown field", `{"source":"https://example.com/a.csv"}`, "IMP001"},
		{"missing url", missingURL, "IMP001"},
		{"bad kind", badKind, "IMP001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/imports", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Detail)
		})
	}

	jobs, err := ts.store.ListJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs, "rejected requests must not create jobs")
}

func TestGetImport_NotFound(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(t, http.MethodGet, "/imports/4b0f9a2e-1111-4c3a-9f00-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB001", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/imports/not-a-uuid", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListImports(t *testing.T) {
	cfg := testConfig()
	cfg.Import.JobListLimit = 2
	ts := newTestServer(t, cfg)
	httpmock.RegisterResponder("GET", resultsURL, httpmock.NewStringResponder(http.StatusOK, resultsBody))

	for i := 0; i < 3; i++ {
		rec := ts.do(t, http.MethodPost, "/imports", ts.importRequest())
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/imports?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]JobResponse](t, rec), 2)

	rec = ts.do(t, http.MethodGet, "/imports?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]JobResponse](t, rec), 1)
}

func TestResultsCheck(t *testing.T) {
	ts := newTestServer(t, testConfig())
	httpmock.RegisterResponder("GET", resultsURL, httpmock.NewStringResponder(http.StatusOK, resultsBody))

	rec := ts.do(t, http.MethodPost, "/imports/results-check", ts.importRequest())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[core.ReconcileReport](t, rec)
	assert.NotEmpty(t, first.Created)
	assert.Empty(t, first.Errors)

	rec = ts.do(t, http.MethodPost, "/imports/results-check", ts.importRequest())
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[core.ReconcileReport](t, rec)
	assert.Empty(t, second.Created)
	assert.Len(t, second.AlreadyExisting, len(first.Created))
}

func TestResultsCheck_HTMLPage(t *testing.T) {
	ts := newTestServer(t, testConfig())
	httpmock.RegisterResponder("GET", resultsURL,
		httpmock.NewStringResponder(http.StatusOK, "<!DOCTYPE html><html><body>Not found</body></html>"))

	rec := ts.do(t, http.MethodPost, "/imports/results-check", ts.importRequest())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "RPT002", decode[ErrorResponse](t, rec).Code)
}

func TestResultsCheck_Unreachable(t *testing.T) {
	ts := newTestServer(t, testConfig())
	httpmock.RegisterResponder("GET", resultsURL, httpmock.NewStringResponder(http.StatusNotFound, "gone"))

	rec := ts.do(t, http.MethodPost, "/imports/results-check", ts.importRequest())
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "RPT001", decode[ErrorResponse](t, rec).Code)
}

func TestTopLaps(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ctx := context.Background()

	var driverID, sessionID int64
	err := ts.store.InTx(ctx, func(tx store.Tx) error {
		ev, _, err := tx.FindOrCreateEvent(ctx, timing.Event{SeriesID: ts.seriesID, Year: 2024, Name: "6 Hours of Spa"})
		if err != nil {
			return err
		}
		session, _, err := tx.FindOrCreateSession(ctx, timing.Session{EventID: ev.ID, Type: timing.SessionRace, Name: "Race"})
		if err != nil {
			return err
		}
		car, _, err := tx.FindOrCreateCarEntry(ctx, timing.CarEntry{SessionID: session.ID, Number: "7"})
		if err != nil {
			return err
		}
		driver, _, err := tx.FindOrCreateDriver(ctx, timing.Driver{FirstName: "Mike", LastName: "CONWAY"})
		if err != nil {
			return err
		}
		carID := car.ID
		if _, _, err := tx.FindOrCreateResult(ctx, timing.Result{SessionID: session.ID, DriverID: driver.ID, CarEntryID: &carID, FinishPosition: 1}); err != nil {
			return err
		}
		var laps []timing.Lap
		for i, ms := range []int64{61200, 60500, 62000, 60800, 61900} {
			laps = append(laps, timing.Lap{SessionID: session.ID, DriverID: driver.ID, CarEntryID: car.ID, LapNumber: i + 1, LapTimeMillis: ms})
		}
		_, err = tx.InsertLaps(ctx, laps)
		driverID, sessionID = driver.ID, session.ID
		return err
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, fmt.Sprintf("/drivers/%d/top-laps?percentage=40", driverID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[TopLapsResponse](t, rec)
	require.Len(t, resp.Laps, 2)
	assert.Equal(t, int64(60500), resp.Laps[0].LapTimeMillis)
	assert.Equal(t, int64(60800), resp.Laps[1].LapTimeMillis)
	assert.Equal(t, timing.UnknownTeam, resp.Laps[0].TeamName)

	// Default percentage is 20.
	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/drivers/%d/top-laps?sessionId=%d", driverID, sessionID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[TopLapsResponse](t, rec).Laps, 1)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/drivers/%d/top-laps?year=1999", driverID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[TopLapsResponse](t, rec).Laps)
}

func TestTopLaps_Errors(t *testing.T) {
	ts := newTestServer(t, testConfig())

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantCode   string
	}{
		{"percentage zero", "/drivers/1/top-laps?percentage=0", http.StatusBadRequest, "ANL001"},
		{"percentage negative", "/drivers/1/top-laps?percentage=-5", http.StatusBadRequest, "ANL001"},
		{"percentage over 100", "/drivers/1/top-laps?percentage=101", http.StatusBadRequest, "ANL001"},
		{"percentage not a number", "/drivers/1/top-laps?percentage=abc", http.StatusBadRequest, "ANL001"},
		{"bad driver id", "/drivers/abc/top-laps", http.StatusBadRequest, "IMP001"},
		{"bad filter", "/drivers/1/top-laps?seriesId=x", http.StatusBadRequest, "IMP001"},
		{"unknown driver", "/drivers/999/top-laps", http.StatusNotFound, "ANL002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestEventLapAnalysis(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ctx := context.Background()

	var eventID, classID int64
	err := ts.store.InTx(ctx, func(tx store.Tx) error {
		ev, _, err := tx.FindOrCreateEvent(ctx, timing.Event{SeriesID: ts.seriesID, Year: 2024, Name: "6 Hours of Spa"})
		if err != nil {
			return err
		}
		session, _, err := tx.FindOrCreateSession(ctx, timing.Session{EventID: ev.ID, Type: timing.SessionRace, Name: "Race"})
		if err != nil {
			return err
		}
		hypercar, _, err := tx.FindOrCreateClass(ctx, ts.seriesID, "HYPERCAR")
		if err != nil {
			return err
		}
		for _, c := range []struct {
			number, first, last string
			times               []int64
		}{
			{"7", "Mike", "CONWAY", []int64{61200, 60500, 62000}},
			{"8", "Sébastien", "BUEMI", []int64{60900, 61000}},
		} {
			car, _, err := tx.FindOrCreateCarEntry(ctx, timing.CarEntry{SessionID: session.ID, Number: c.number, ClassID: &hypercar.ID})
			if err != nil {
				return err
			}
			driver, _, err := tx.FindOrCreateDriver(ctx, timing.Driver{FirstName: c.first, LastName: c.last})
			if err != nil {
				return err
			}
			carID := car.ID
			if _, _, err := tx.FindOrCreateResult(ctx, timing.Result{SessionID: session.ID, DriverID: driver.ID, CarEntryID: &carID}); err != nil {
				return err
			}
			var laps []timing.Lap
			for i, ms := range c.times {
				laps = append(laps, timing.Lap{SessionID: session.ID, DriverID: driver.ID, CarEntryID: car.ID, LapNumber: i + 1, LapTimeMillis: ms})
			}
			if _, err := tx.InsertLaps(ctx, laps); err != nil {
				return err
			}
		}
		eventID, classID = ev.ID, hypercar.ID
		return nil
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, fmt.Sprintf("/events/%d/lap-analysis?percentage=40&classId=%d", eventID, classID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[timing.EventLapAnalysis](t, rec)
	assert.Equal(t, eventID, resp.EventID)
	assert.Equal(t, 40.0, resp.Percentage)
	assert.Equal(t, int64(60700), resp.Overall.AverageMillis)
	assert.Equal(t, "1:00.500", resp.Overall.FastestLapTime)
	assert.Equal(t, "1:01.000", resp.Overall.MedianLapTime)
	assert.Equal(t, 5, resp.Overall.TotalLapCount)
	assert.Equal(t, 2, resp.DriverCount)
	require.Len(t, resp.Drivers, 2)
	assert.Equal(t, "Mike CONWAY", resp.Drivers[0].DriverName)
	assert.Equal(t, "HYPERCAR", resp.Drivers[0].ClassName)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/events/%d/lap-analysis?offset=1&limit=1", eventID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[timing.EventLapAnalysis](t, rec)
	assert.Equal(t, 20.0, resp.Percentage)
	require.Len(t, resp.Drivers, 1)
	assert.Equal(t, "Sébastien BUEMI", resp.Drivers[0].DriverName)
	assert.Equal(t, 2, resp.DriverCount)
}

func TestEventLapAnalysis_Errors(t *testing.T) {
	ts := newTestServer(t, testConfig())

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantCode   string
	}{
		{"percentage over 100", "/events/1/lap-analysis?percentage=101", http.StatusBadRequest, "ANL001"},
		{"percentage not a number", "/events/1/lap-analysis?percentage=abc", http.StatusBadRequest, "ANL001"},
		{"bad event id", "/events/abc/lap-analysis", http.StatusBadRequest, "IMP001"},
		{"bad class filter", "/events/1/lap-analysis?classId=0", http.StatusBadRequest, "IMP001"},
		{"unknown event", "/events/999/lap-analysis", http.StatusNotFound, "ANL003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestSeries(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(t, http.MethodPost, "/series", CreateSeriesRequest{Name: "IMSA WeatherTech", Description: "North America"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[timing.Series](t, rec)
	assert.Positive(t, created.ID)

	rec = ts.do(t, http.MethodPost, "/series", CreateSeriesRequest{Name: "IMSA WeatherTech"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DB001", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/series", CreateSeriesRequest{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/series", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]timing.Series](t, rec), 2)
}

func TestSeriesYearsAndEvents(t *testing.T) {
	ts := newTestServer(t, testConfig())
	httpmock.RegisterResponder("GET", resultsURL, httpmock.NewStringResponder(http.StatusOK, resultsBody))

	rec := ts.do(t, http.MethodPost, "/imports/results-check", ts.importRequest())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/series/%d/years", ts.seriesID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{2024}, decode[[]int](t, rec))

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/series/%d/2024/events", ts.seriesID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]timing.Event](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, "6 Hours of Spa", events[0].Name)

	rec = ts.do(t, http.MethodGet, "/series/999/years", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Pool.Workers)

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `laptiming_http_requests_total{method="GET",route="/healthz",status_code="200"} 1`)
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, ImportLimit: 2}
	ts := newTestServer(t, cfg)
	httpmock.RegisterResponder("GET", resultsURL, httpmock.NewStringResponder(http.StatusOK, resultsBody))

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, "/imports/results-check", ts.importRequest())
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := ts.do(t, http.MethodPost, "/imports/results-check", ts.importRequest())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "IMP004", decode[ErrorResponse](t, rec).Code)

	// Read endpoints use the general limit.
	rec = ts.do(t, http.MethodGet, "/imports", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_Allow(t *testing.T) {
	s := &Server{}
	rl := s.newRateLimiter(2, time.Minute)
	defer s.Close()

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"), "limits are per IP")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", timing.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("%w: x", timing.ErrReportFormatInvalid), http.StatusBadRequest},
		{fmt.Errorf("%w: x", timing.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", timing.ErrResourceExists), http.StatusConflict},
		{fmt.Errorf("%w: x", timing.ErrReferentialPrecondition), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: x", timing.ErrReportUnreachable), http.StatusBadGateway},
		{fmt.Errorf("%w: x", timing.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{core.ErrQueueFull, http.StatusServiceUnavailable},
		{core.ErrPoolClosed, http.StatusServiceUnavailable},
		{core.ErrTooManyChecks, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: x", timing.ErrInvalidStateTransition), http.StatusInternalServerError},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
