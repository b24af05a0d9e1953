// Package runs serves scenario runs and their summaries from the store,
// memoized through the cache coordinator.
package runs

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/authority-monitor/internal/cache"
	"github.com/sells-group/authority-monitor/internal/model"
	"github.com/sells-group/authority-monitor/internal/store"
	"github.com/sells-group/authority-monitor/internal/timewindow"
)

const (
	keyLatest   = "runs:latest"
	keySummary  = "runs:summary:"
	keyFailures = "runs:failures:"
	keyHistory  = "runs:history:"

	// Summaries of a saved run never change.
	immutableTTL = 7 * 24 * time.Hour
)

// Registry is the read/write entry point for scenario runs.
type Registry struct {
	store   store.Store
	cache   *cache.Coordinator
	now     func() time.Time
	ttl     time.Duration
	raceTTL time.Duration
	log     *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for run timestamps and windows.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithTTL sets how long latest-run and history lookups are memoized.
func WithTTL(ttl, raceTTL time.Duration) Option {
	return func(r *Registry) {
		r.ttl = ttl
		r.raceTTL = raceTTL
	}
}

// NewRegistry creates a Registry.
func NewRegistry(st store.Store, c *cache.Coordinator, opts ...Option) *Registry {
	r := &Registry{
		store:   st,
		cache:   c,
		now:     time.Now,
		ttl:     time.Hour,
		raceTTL: 30 * time.Second,
		log:     zap.L().With(zap.String("component", "runs")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SaveRun stores results as a new run and invalidates the memoized views that
// depend on the latest run.
func (r *Registry) SaveRun(ctx context.Context, results []model.ScenarioResult) (*model.ScenarioRun, error) {
	run, err := r.store.SaveRun(ctx, r.now(), results)
	if err != nil {
		return nil, eris.Wrap(err, "runs: save")
	}
	keys := []string{keyLatest}
	for _, w := range timewindow.Windows {
		keys = append(keys, keyHistory+string(w))
	}
	for _, k := range keys {
		if err := r.cache.Delete(ctx, k); err != nil {
			r.log.Warn("invalidate cache", zap.String("key", k), zap.Error(err))
		}
	}
	return run, nil
}

// LatestRun returns the run with the greatest id, or nil when none exist.
func (r *Registry) LatestRun(ctx context.Context) (*model.ScenarioRun, error) {
	return cache.Fetch(ctx, r.cache, keyLatest, r.opts(),
		func(ctx context.Context) (*model.ScenarioRun, error) {
			return r.store.LatestRun(ctx)
		})
}

// RunSummary derives the summary of runID. An unknown id yields a zero summary.
func (r *Registry) RunSummary(ctx context.Context, runID int64) (model.RunSummary, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunSummary{}, eris.Wrap(err, "runs: get run")
	}
	if run == nil {
		return model.RunSummary{RunID: runID}, nil
	}
	return cache.Fetch(ctx, r.cache, keySummary+strconv.FormatInt(runID, 10), cache.FetchOptions{TTL: immutableTTL},
		func(ctx context.Context) (model.RunSummary, error) {
			counts, err := r.store.RunStatusCounts(ctx, runID)
			if err != nil {
				return model.RunSummary{}, err
			}
			return store.Summarize(*run, counts), nil
		})
}

// LatestSummary summarizes the latest run, or returns nil when no run exists.
func (r *Registry) LatestSummary(ctx context.Context) (*model.RunSummary, error) {
	run, err := r.LatestRun(ctx)
	if err != nil || run == nil {
		return nil, err
	}
	s, err := r.RunSummary(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// RunFailures lists the failing and unknown results of runID in row order.
func (r *Registry) RunFailures(ctx context.Context, runID int64) ([]model.ScenarioResult, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "runs: get run")
	}
	if run == nil {
		return []model.ScenarioResult{}, nil
	}
	rs, err := cache.Fetch(ctx, r.cache, keyFailures+strconv.FormatInt(runID, 10), cache.FetchOptions{TTL: immutableTTL},
		func(ctx context.Context) ([]model.ScenarioResult, error) {
			return r.store.RunFailures(ctx, runID)
		})
	if rs == nil && err == nil {
		rs = []model.ScenarioResult{}
	}
	return rs, err
}

// HistoricalSummary totals good and bad results per authority over the
// trailing window.
func (r *Registry) HistoricalSummary(ctx context.Context, w timewindow.Window) ([]model.AuthorityHistory, error) {
	return cache.Fetch(ctx, r.cache, keyHistory+string(w), r.opts(),
		func(ctx context.Context) ([]model.AuthorityHistory, error) {
			counts, err := r.store.StatusCountsSince(ctx, timewindow.For(w, r.now()).Start)
			if err != nil {
				return nil, err
			}
			return store.SummarizeHistory(counts), nil
		})
}

func (r *Registry) opts() cache.FetchOptions {
	return cache.FetchOptions{TTL: r.ttl, RaceConditionTTL: r.raceTTL}
}
