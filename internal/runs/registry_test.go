package runs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/authority-monitor/internal/cache"
	"github.com/sells-group/authority-monitor/internal/model"
	"github.com/sells-group/authority-monitor/internal/store"
	"github.com/sells-group/authority-monitor/internal/timewindow"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestRegistry(t *testing.T) (*Registry, *testClock) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	clk := &testClock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	c := cache.New(cache.NewMemory(clk.Now), cache.WithClock(clk.Now))
	return NewRegistry(st, c, WithClock(clk.Now)), clk
}

func results(auth string, statuses ...model.ScenarioStatus) []model.ScenarioResult {
	out := make([]model.ScenarioResult, len(statuses))
	for i, s := range statuses {
		out[i] = model.ScenarioResult{Authority: auth, Status: s, Action: model.ActionSearch, ScenarioType: model.ScenarioConnection}
	}
	return out
}

func TestRegistry_Empty(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	run, err := r.LatestRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, run)

	s, err := r.LatestSummary(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	sum, err := r.RunSummary(ctx, 404)
	require.NoError(t, err)
	assert.Equal(t, model.RunSummary{RunID: 404}, sum)

	f, err := r.RunFailures(ctx, 404)
	require.NoError(t, err)
	assert.NotNil(t, f)
	assert.Empty(t, f)

	h, err := r.HistoricalSummary(ctx, timewindow.Month)
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestRegistry_SaveRunInvalidatesLatest(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.SaveRun(ctx, results("LOC", model.StatusPass))
	require.NoError(t, err)
	latest, err := r.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	second, err := r.SaveRun(ctx, results("LOC", model.StatusFail, model.StatusUnknown, model.StatusPass))
	require.NoError(t, err)
	latest, err = r.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	s, err := r.LatestSummary(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 3, s.TotalScenarioCount)
	assert.Equal(t, 1, s.PassingScenarioCount)
	assert.Equal(t, 2, s.FailingScenarioCount)
	assert.Equal(t, 1, s.FailingAuthorityCount)

	f, err := r.RunFailures(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, f, 2)
	assert.Equal(t, model.StatusFail, f[0].Status)
}

func TestRegistry_HistoricalSummary(t *testing.T) {
	r, clk := newTestRegistry(t)
	ctx := context.Background()
	now := clk.now

	clk.now = now.AddDate(0, 0, -45)
	_, err := r.SaveRun(ctx, results("OLD", model.StatusFail))
	require.NoError(t, err)
	clk.now = now.AddDate(0, 0, -3)
	_, err = r.SaveRun(ctx, append(results("LOC", model.StatusPass, model.StatusUnknown), results("AGROVOC", model.StatusPass)...))
	require.NoError(t, err)
	clk.now = now

	month, err := r.HistoricalSummary(ctx, timewindow.Month)
	require.NoError(t, err)
	assert.Equal(t, []model.AuthorityHistory{
		{Authority: "AGROVOC", Good: 1},
		{Authority: "LOC", Good: 1, Bad: 1},
	}, month)

	all, err := r.HistoricalSummary(ctx, timewindow.All)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = r.SaveRun(ctx, results("NEW", model.StatusPass))
	require.NoError(t, err)
	month, err = r.HistoricalSummary(ctx, timewindow.Month)
	require.NoError(t, err)
	assert.Len(t, month, 3, "save invalidates history")
}
