// Package perf aggregates performance samples into the datatable and the
// hourly, daily and monthly graph series.
package perf

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/authority-monitor/internal/cache"
	"github.com/sells-group/authority-monitor/internal/model"
	"github.com/sells-group/authority-monitor/internal/perfbuffer"
	"github.com/sells-group/authority-monitor/internal/stats"
	"github.com/sells-group/authority-monitor/internal/store"
	"github.com/sells-group/authority-monitor/internal/timewindow"
)

// BytesPerMSKey holds response throughput in datatable stats.
const BytesPerMSKey = "bytes_per_ms"

// RecordSource loads persisted samples.
type RecordSource interface {
	PerformanceRecords(ctx context.Context, f store.PerformanceFilter) ([]model.PerformanceRecord, error)
}

// Flusher pushes buffered samples to the store.
type Flusher interface {
	WriteAll(ctx context.Context) (perfbuffer.FlushResult, error)
}

// Config controls aggregation.
type Config struct {
	Authorities     []string
	DatatableWindow timewindow.Window
	Location        *time.Location
	ExpiryHour      int
	// RefreshCurrent lists the graph windows whose current bucket is
	// recomputed on every call instead of memoized until the daily expiry.
	RefreshCurrent []timewindow.Window
	RaceTTL        time.Duration
}

// Point is one graph bucket.
type Point struct {
	Label string      `json:"label"`
	Start time.Time   `json:"start"`
	Stats stats.Stats `json:"stats"`
}

// Graph is one series: an authority and action over a window.
type Graph struct {
	Authority string            `json:"authority"`
	Action    model.Action      `json:"action"`
	Window    timewindow.Window `json:"window"`
	Points    []Point           `json:"points"`
}

// Tree indexes graph points by authority, action and window.
type Tree map[string]map[model.Action]map[timewindow.Window][]Point

// DatatableRow holds the statistics for one authority and action.
type DatatableRow struct {
	Authority string       `json:"authority"`
	Action    model.Action `json:"action"`
	Stats     stats.Stats  `json:"stats"`
}

// Datatable is the flattened statistics table over the configured window.
type Datatable struct {
	Window      timewindow.Window `json:"window"`
	GeneratedAt time.Time         `json:"generated_at"`
	Rows        []DatatableRow    `json:"rows"`
}

// Service computes and memoizes performance aggregates.
type Service struct {
	src     RecordSource
	flusher Flusher
	cache   *cache.Coordinator
	cfg     Config
	now     func() time.Time
	log     *zap.Logger
}

// NewService creates a Service. flusher may be nil when no buffer runs in
// this process.
func NewService(src RecordSource, flusher Flusher, c *cache.Coordinator, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DatatableWindow == "" {
		cfg.DatatableWindow = timewindow.Month
	}
	if cfg.RefreshCurrent == nil {
		cfg.RefreshCurrent = []timewindow.Window{timewindow.Day}
	}
	return &Service{
		src:     src,
		flusher: flusher,
		cache:   c,
		cfg:     cfg,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "perf")),
	}
}

// Authorities returns the configured authorities followed by the aggregate
// sentinel.
func (s *Service) Authorities() []string {
	return append(slices.Clone(s.cfg.Authorities), model.AllAuthorities)
}

// Actions returns every action followed by the aggregate sentinel.
func Actions() []model.Action {
	return append(slices.Clone(model.Actions), model.ActionAll)
}

// NextExpiry is when memoized daily aggregates go stale.
func (s *Service) NextExpiry() time.Time {
	return cache.NextExpiry(s.now(), s.cfg.Location, s.cfg.ExpiryHour)
}

func (s *Service) flush(ctx context.Context) error {
	if s.flusher == nil {
		return nil
	}
	if _, err := s.flusher.WriteAll(ctx); err != nil {
		return eris.Wrap(err, "perf: flush buffer")
	}
	return nil
}

// Datatable returns the memoized datatable, computing it when stale or when
// force is set.
func (s *Service) Datatable(ctx context.Context, force bool) (Datatable, error) {
	opts := cache.FetchOptions{ExpiresAt: s.NextExpiry(), Force: force, RaceConditionTTL: s.cfg.RaceTTL}
	return cache.Fetch(ctx, s.cache, "perf:datatable:"+string(s.cfg.DatatableWindow), opts, s.computeDatatable)
}

func (s *Service) computeDatatable(ctx context.Context) (Datatable, error) {
	w := s.cfg.DatatableWindow
	if w == timewindow.Day {
		// same-day samples may still be buffered
		if err := s.flush(ctx); err != nil {
			return Datatable{}, err
		}
	}
	now := s.now()
	rng := timewindow.For(w, now)
	records, err := s.src.PerformanceRecords(ctx, store.PerformanceFilter{Since: rng.Start})
	if err != nil {
		return Datatable{}, eris.Wrap(err, "perf: load datatable records")
	}

	dt := Datatable{Window: w, GeneratedAt: now.UTC()}
	for _, auth := range s.Authorities() {
		for _, action := range Actions() {
			subset := filter(records, auth, action, timewindow.Range{})
			st := stats.NewCalculator(subset).Stats(true)
			st[BytesPerMSKey] = stats.BytesPerMS(subset)
			dt.Rows = append(dt.Rows, DatatableRow{Authority: auth, Action: action, Stats: st})
		}
	}
	s.log.Info("datatable computed",
		zap.String("window", string(w)),
		zap.Int("records", len(records)),
		zap.Int("rows", len(dt.Rows)),
	)
	return dt, nil
}

// DayGraph returns 24 hourly averages ending with the current hour.
func (s *Service) DayGraph(ctx context.Context, authority string, action model.Action) (Graph, error) {
	return s.Graph(ctx, authority, action, timewindow.Day)
}

// MonthGraph returns 30 daily averages ending with today.
func (s *Service) MonthGraph(ctx context.Context, authority string, action model.Action) (Graph, error) {
	return s.Graph(ctx, authority, action, timewindow.Month)
}

// YearGraph returns 12 monthly averages ending with this month.
func (s *Service) YearGraph(ctx context.Context, authority string, action model.Action) (Graph, error) {
	return s.Graph(ctx, authority, action, timewindow.Year)
}

// Graph computes one series. Completed buckets are memoized per bucket; the
// current bucket is recomputed on every call for windows in RefreshCurrent
// (always including the day window's current hour).
func (s *Service) Graph(ctx context.Context, authority string, action model.Action, w timewindow.Window) (Graph, error) {
	now := s.now().In(s.cfg.Location)
	buckets := timewindow.Buckets(w, now)
	if len(buckets) == 0 {
		return Graph{}, eris.Errorf("perf: window %q has no graph", w)
	}
	span := timewindow.Span(buckets)

	load := sync.OnceValues(func() ([]model.PerformanceRecord, error) {
		recs, err := s.src.PerformanceRecords(ctx, store.PerformanceFilter{
			Authority: authority,
			Action:    action,
			Since:     span.Start,
			Until:     span.End,
		})
		return recs, eris.Wrapf(err, "perf: load %s graph records", w)
	})
	compute := func(ctx context.Context, b timewindow.Bucket) (stats.Stats, error) {
		recs, err := load()
		if err != nil {
			return nil, err
		}
		return stats.NewCalculator(filter(recs, authority, action, b.Range)).Stats(false), nil
	}

	g := Graph{Authority: authority, Action: action, Window: w, Points: make([]Point, len(buckets))}
	for i, b := range buckets {
		var st stats.Stats
		var err error
		if b.Current && s.refreshCurrent(w) {
			st, err = compute(ctx, b)
		} else {
			st, err = cache.Fetch(ctx, s.cache, bucketKey(authority, action, w, b), s.bucketOptions(w, b),
				func(ctx context.Context) (stats.Stats, error) { return compute(ctx, b) })
		}
		if err != nil {
			return Graph{}, err
		}
		g.Points[i] = Point{Label: b.Label, Start: b.Range.Start, Stats: st}
	}
	return g, nil
}

func (s *Service) refreshCurrent(w timewindow.Window) bool {
	return w == timewindow.Day || slices.Contains(s.cfg.RefreshCurrent, w)
}

func bucketKey(authority string, action model.Action, w timewindow.Window, b timewindow.Bucket) string {
	return fmt.Sprintf("perf:graph:%s:%s:%s:%d", authority, action, w, b.Range.Start.Unix())
}

// bucketOptions memoizes completed buckets for as long as they can appear in
// their window, and a current bucket only until the daily expiry.
func (s *Service) bucketOptions(w timewindow.Window, b timewindow.Bucket) cache.FetchOptions {
	if b.Current {
		return cache.FetchOptions{ExpiresAt: s.NextExpiry(), RaceConditionTTL: s.cfg.RaceTTL}
	}
	ttl := 25 * time.Hour
	switch w {
	case timewindow.Month:
		ttl = 31 * 24 * time.Hour
	case timewindow.Year:
		ttl = 366 * 24 * time.Hour
	}
	return cache.FetchOptions{TTL: ttl, RaceConditionTTL: s.cfg.RaceTTL}
}

// Graphs computes every series for every authority, action and graph window.
func (s *Service) Graphs(ctx context.Context) (Tree, []Graph, error) {
	tree := make(Tree)
	var all []Graph
	for _, auth := range s.Authorities() {
		tree[auth] = make(map[model.Action]map[timewindow.Window][]Point)
		for _, action := range Actions() {
			tree[auth][action] = make(map[timewindow.Window][]Point)
			for _, w := range []timewindow.Window{timewindow.Day, timewindow.Month, timewindow.Year} {
				g, err := s.Graph(ctx, auth, action, w)
				if err != nil {
					return nil, nil, err
				}
				tree[auth][action][w] = g.Points
				all = append(all, g)
			}
		}
	}
	return tree, all, nil
}

func filter(records []model.PerformanceRecord, authority string, action model.Action, r timewindow.Range) []model.PerformanceRecord {
	out := make([]model.PerformanceRecord, 0, len(records))
	for _, rec := range records {
		if authority != model.AllAuthorities && authority != "" && rec.Authority != authority {
			continue
		}
		if action != model.ActionAll && action != "" && rec.Action != action {
			continue
		}
		if !r.Contains(rec.Timestamp) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
