package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/authority-monitor/internal/model"
)

var _ Store = (*SQLiteStore)(nil)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func ptr[T any](v T) *T { return &v }

func sampleResults() []model.ScenarioResult {
	return []model.ScenarioResult{
		{Status: model.StatusPass, Authority: "AGROVOC", Service: "agrovoc", Action: model.ActionSearch,
			URL: "/search/agrovoc?q=milk", ScenarioType: model.ScenarioConnection, RunTime: 1500 * time.Millisecond},
		{Status: model.StatusFail, Authority: "LOC", Subauthority: "person", Action: model.ActionSearch,
			ErrorMessage: "Net::ReadTimeout", ScenarioType: model.ScenarioConnection},
		{Status: model.StatusPass, Authority: "LOC", Action: model.ActionFetch, ScenarioType: model.ScenarioConnection},
		{Status: model.StatusUnknown, Authority: "LOC", Action: model.ActionSearch,
			ScenarioType: model.ScenarioAccuracy, Expected: ptr(2), Actual: ptr(5), Target: "http://id.loc.gov/x"},
	}
}

func TestSQLite_SaveRunAndLatest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	latest, err := st.LatestRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	t0 := time.Date(2026, 10, 1, 3, 0, 0, 0, time.UTC)
	first, err := st.SaveRun(ctx, t0, sampleResults())
	require.NoError(t, err)
	second, err := st.SaveRun(ctx, t0.Add(time.Hour), sampleResults()[:1])
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	latest, err = st.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.True(t, latest.CreatedAt.Equal(t0.Add(time.Hour)))

	got, err := st.GetRun(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(t0))

	missing, err := st.GetRun(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_RunResultsRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.SaveRun(ctx, time.Now(), sampleResults())
	require.NoError(t, err)

	rs, err := st.RunResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rs, 4)
	assert.Equal(t, run.ID, rs[0].RunID)
	assert.Equal(t, 1500*time.Millisecond, rs[0].RunTime)
	assert.Nil(t, rs[0].Expected)
	assert.Equal(t, "person", rs[1].Subauthority)
	assert.Equal(t, model.ScenarioAccuracy, rs[3].ScenarioType)
	assert.Equal(t, 2, *rs[3].Expected)
	assert.Equal(t, 5, *rs[3].Actual)

	failures, err := st.RunFailures(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, model.StatusFail, failures[0].Status)
	assert.Equal(t, model.StatusUnknown, failures[1].Status)
	assert.Less(t, failures[0].ID, failures[1].ID)

	none, err := st.RunResults(ctx, 12345)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func failureKeys(rs []model.ScenarioResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = fmt.Sprintf("%s|%s|%s|%s|%s", r.Authority, r.Action, r.Status, r.ScenarioType, r.ErrorMessage)
	}
	return out
}

func TestSQLite_FailuresIndependentOfInsertionOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base, err := st.SaveRun(ctx, time.Now(), sampleResults())
	require.NoError(t, err)
	want, err := st.RunFailures(ctx, base.ID)
	require.NoError(t, err)
	wantCounts, err := st.RunStatusCounts(ctx, base.ID)
	require.NoError(t, err)
	wantSummary := Summarize(*base, wantCounts)

	rng := rand.New(rand.NewPCG(7, 11))
	for i := range 5 {
		t.Run(fmt.Sprintf("shuffle_%d", i), func(t *testing.T) {
			rs := sampleResults()
			rng.Shuffle(len(rs), func(a, b int) { rs[a], rs[b] = rs[b], rs[a] })

			run, err := st.SaveRun(ctx, time.Now(), rs)
			require.NoError(t, err)
			got, err := st.RunFailures(ctx, run.ID)
			require.NoError(t, err)
			assert.ElementsMatch(t, failureKeys(want), failureKeys(got))
			for _, r := range got {
				assert.NotEqual(t, model.StatusPass, r.Status)
			}

			counts, err := st.RunStatusCounts(ctx, run.ID)
			require.NoError(t, err)
			s := Summarize(*run, counts)
			assert.Equal(t, wantSummary.AuthorityCount, s.AuthorityCount)
			assert.Equal(t, wantSummary.FailingAuthorityCount, s.FailingAuthorityCount)
			assert.Equal(t, wantSummary.PassingScenarioCount, s.PassingScenarioCount)
			assert.Equal(t, wantSummary.FailingScenarioCount, s.FailingScenarioCount)
		})
	}
}

func TestSQLite_SummaryCountsMatchRows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.SaveRun(ctx, time.Now(), sampleResults())
	require.NoError(t, err)
	counts, err := st.RunStatusCounts(ctx, run.ID)
	require.NoError(t, err)
	s := Summarize(*run, counts)

	rows, err := st.RunResults(ctx, run.ID)
	require.NoError(t, err)
	passing := 0
	authorities := map[string]bool{}
	for _, r := range rows {
		authorities[r.Authority] = true
		if r.Status.Passing() {
			passing++
		}
	}
	assert.Equal(t, len(rows), s.TotalScenarioCount)
	assert.Equal(t, passing, s.PassingScenarioCount)
	assert.Equal(t, len(rows)-passing, s.FailingScenarioCount)
	assert.Equal(t, len(authorities), s.AuthorityCount)
	assert.Equal(t, 1, s.FailingAuthorityCount)
}

func TestSQLite_StatusCountsSince(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	_, err := st.SaveRun(ctx, now.AddDate(0, 0, -40), sampleResults())
	require.NoError(t, err)
	_, err = st.SaveRun(ctx, now.AddDate(0, 0, -2), sampleResults())
	require.NoError(t, err)

	counts, err := st.StatusCountsSince(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	h := SummarizeHistory(counts)
	assert.Equal(t, []model.AuthorityHistory{
		{Authority: "AGROVOC", Good: 1},
		{Authority: "LOC", Good: 1, Bad: 2},
	}, h)

	rows, err := st.ResultsSince(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Net::ReadTimeout", rows[1].ErrorMessage)
	assert.True(t, rows[0].RunAt.Equal(now.AddDate(0, 0, -2)))

	counts, err = st.StatusCountsSince(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestSQLite_PerformanceRecords(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

	recs := []model.PerformanceRecord{
		{Authority: "LOC", Action: model.ActionSearch, Timestamp: base, ActionTimeMS: 10, SizeBytes: 100, RetrieveTimeMS: 5, GraphLoadTimeMS: 2, NormalizationTimeMS: 3},
		{Authority: "LOC", Action: model.ActionFetch, Timestamp: base.Add(time.Hour), ActionTimeMS: 20, SizeBytes: 200},
		{Authority: "AGROVOC", Action: model.ActionSearch, Timestamp: base.Add(2 * time.Hour), ActionTimeMS: 30, SizeBytes: 300},
	}
	require.NoError(t, st.SavePerformanceRecords(ctx, recs))
	require.NoError(t, st.SavePerformanceRecords(ctx, nil))

	all, err := st.PerformanceRecords(ctx, PerformanceFilter{Authority: model.AllAuthorities, Action: model.ActionAll})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Timestamp.Equal(base))
	assert.Equal(t, int64(100), all[0].SizeBytes)
	assert.InDelta(t, 3.0, all[0].NormalizationTimeMS, 1e-9)

	loc, err := st.PerformanceRecords(ctx, PerformanceFilter{Authority: "LOC"})
	require.NoError(t, err)
	assert.Len(t, loc, 2)

	search, err := st.PerformanceRecords(ctx, PerformanceFilter{Action: model.ActionSearch})
	require.NoError(t, err)
	assert.Len(t, search, 2)

	window, err := st.PerformanceRecords(ctx, PerformanceFilter{Since: base.Add(time.Hour), Until: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, model.ActionFetch, window[0].Action)
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}
