package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/authority-monitor/internal/history"
	"github.com/sells-group/authority-monitor/internal/model"
	"github.com/sells-group/authority-monitor/internal/perf"
	"github.com/sells-group/authority-monitor/internal/timewindow"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeRuns struct {
	latest     *model.ScenarioRun
	failures   []model.ScenarioResult
	gotWindow  timewindow.Window
	gotRunID   int64
	historyErr error
}

func (f *fakeRuns) LatestRun(context.Context) (*model.ScenarioRun, error) { return f.latest, nil }

func (f *fakeRuns) RunSummary(_ context.Context, id int64) (model.RunSummary, error) {
	f.gotRunID = id
	return model.RunSummary{RunID: id, AuthorityCount: 3, TotalScenarioCount: 12}, nil
}

func (f *fakeRuns) RunFailures(_ context.Context, id int64) ([]model.ScenarioResult, error) {
	f.gotRunID = id
	if f.failures == nil {
		return []model.ScenarioResult{}, nil
	}
	return f.failures, nil
}

func (f *fakeRuns) HistoricalSummary(_ context.Context, w timewindow.Window) ([]model.AuthorityHistory, error) {
	f.gotWindow = w
	return []model.AuthorityHistory{{Authority: "LOC", Good: 9, Bad: 1}}, f.historyErr
}

type fakeUpDown struct{}

func (fakeUpDown) UpDown(context.Context) ([]history.Authority, error) {
	return []history.Authority{{Authority: "LOC", Days: []history.Day{{Date: "2026-10-18", Status: history.FullyUp}}}}, nil
}

type fakePerf struct {
	forced bool
	graph  struct {
		authority string
		action    model.Action
		window    timewindow.Window
	}
}

func (f *fakePerf) Datatable(_ context.Context, force bool) (perf.Datatable, error) {
	f.forced = force
	return perf.Datatable{Window: timewindow.Month, Rows: []perf.DatatableRow{{Authority: "LOC", Action: model.ActionSearch}}}, nil
}

func (f *fakePerf) Graph(_ context.Context, authority string, action model.Action, w timewindow.Window) (perf.Graph, error) {
	f.graph.authority, f.graph.action, f.graph.window = authority, action, w
	return perf.Graph{Authority: authority, Action: action, Window: w, Points: make([]perf.Point, 24)}, nil
}

type fixture struct {
	runs *fakeRuns
	perf *fakePerf
	srv  *httptest.Server
}

func newFixture(t *testing.T, pingErr error) *fixture {
	t.Helper()
	f := &fixture{
		runs: &fakeRuns{latest: &model.ScenarioRun{ID: 5, CreatedAt: time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)}},
		perf: &fakePerf{},
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("authmon_up 1\n"))
	})
	s := NewServer(Deps{Store: fakePinger{pingErr}, Runs: f.runs, UpDown: fakeUpDown{}, Perf: f.perf, Metrics: metrics})
	f.srv = httptest.NewServer(s.Router(nil))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string, into any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	var body map[string]string
	assert.Equal(t, http.StatusOK, newFixture(t, nil).get(t, "/health", &body))
	assert.Equal(t, "ok", body["status"])

	assert.Equal(t, http.StatusServiceUnavailable, newFixture(t, errors.New("db down")).get(t, "/health", &body))
	assert.Equal(t, "db down", body["error"])
}

func TestMetrics(t *testing.T) {
	assert.Equal(t, http.StatusOK, newFixture(t, nil).get(t, "/metrics", nil))
}

func TestLatestRun(t *testing.T) {
	f := newFixture(t, nil)
	var body latestRunResponse
	require.Equal(t, http.StatusOK, f.get(t, "/runs/latest", &body))
	require.NotNil(t, body.Run)
	require.NotNil(t, body.Summary)
	assert.Equal(t, int64(5), body.Summary.RunID)
	assert.Equal(t, 12, body.Summary.TotalScenarioCount)

	f.runs.latest = nil
	body = latestRunResponse{}
	require.Equal(t, http.StatusOK, f.get(t, "/runs/latest", &body))
	assert.Nil(t, body.Run)
	assert.Nil(t, body.Summary)
}

func TestRunFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.runs.failures = []model.ScenarioResult{{Authority: "LOC", Status: model.StatusFail, ErrorMessage: "timeout"}}

	var body []model.ScenarioResult
	require.Equal(t, http.StatusOK, f.get(t, "/runs/5/failures", &body))
	assert.Equal(t, int64(5), f.runs.gotRunID)
	require.Len(t, body, 1)
	assert.Equal(t, "timeout", body[0].ErrorMessage)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/runs/abc/failures", nil))
}

func TestRunSummary(t *testing.T) {
	f := newFixture(t, nil)
	var body model.RunSummary
	require.Equal(t, http.StatusOK, f.get(t, "/runs/99/summary", &body))
	assert.Equal(t, int64(99), body.RunID)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, nil)

	var body struct {
		Window      timewindow.Window        `json:"window"`
		Authorities []model.AuthorityHistory `json:"authorities"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/history", &body))
	assert.Equal(t, timewindow.Month, body.Window)
	assert.Equal(t, timewindow.Month, f.runs.gotWindow)

	require.Equal(t, http.StatusOK, f.get(t, "/history?window=year", &body))
	assert.Equal(t, timewindow.Year, f.runs.gotWindow)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/history?window=week", nil))

	f.runs.historyErr = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, f.get(t, "/history", nil))
}

func TestUpDown(t *testing.T) {
	var body []history.Authority
	require.Equal(t, http.StatusOK, newFixture(t, nil).get(t, "/history/updown", &body))
	require.Len(t, body, 1)
	assert.Equal(t, history.FullyUp, body[0].Days[0].Status)
}

func TestDatatable(t *testing.T) {
	f := newFixture(t, nil)
	var body perf.Datatable
	require.Equal(t, http.StatusOK, f.get(t, "/performance/datatable", &body))
	assert.False(t, f.perf.forced)
	assert.Len(t, body.Rows, 1)

	require.Equal(t, http.StatusOK, f.get(t, "/performance/datatable?force=true", &body))
	assert.True(t, f.perf.forced)
}

func TestGraph(t *testing.T) {
	f := newFixture(t, nil)
	var body perf.Graph
	require.Equal(t, http.StatusOK, f.get(t, "/performance/graphs/LOC/search/day", &body))
	assert.Equal(t, "LOC", f.perf.graph.authority)
	assert.Equal(t, model.ActionSearch, f.perf.graph.action)
	assert.Len(t, body.Points, 24)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/performance/graphs/LOC/search/all", nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/performance/graphs/LOC/delete/day", nil))
}

func TestCORS(t *testing.T) {
	f := newFixture(t, nil)
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dashboard.example.org")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
