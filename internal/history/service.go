package history

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/sells-group/authority-monitor/internal/cache"
	"github.com/sells-group/authority-monitor/internal/model"
	"github.com/sells-group/authority-monitor/internal/timewindow"
)

const (
	cacheKey    = "history:updown"
	dateLayout  = "2006-01-02"
	defaultDays = 30
)

// ResultSource supplies the result rows to classify.
type ResultSource interface {
	ResultsSince(ctx context.Context, since time.Time) ([]model.ResultRow, error)
}

// Day is one classified calendar day.
type Day struct {
	Date    string `json:"date"`
	Status  Status `json:"status"`
	Good    int    `json:"good"`
	Unknown int    `json:"unknown"`
	Bad     int    `json:"bad"`
	Timeout int    `json:"timeout"`
}

// Authority is one authority's daily history, oldest day first.
type Authority struct {
	Authority string `json:"authority"`
	Days      []Day  `json:"days"`
}

// Config controls the classification window.
type Config struct {
	Days        int
	Location    *time.Location
	ExpiryHour  int
	Authorities []string
}

// Service computes daily up/down histories.
type Service struct {
	src   ResultSource
	cache *cache.Coordinator
	cfg   Config
	now   func() time.Time
}

// NewService creates a Service. cfg.Authorities are always reported, even on
// days they have no results.
func NewService(src ResultSource, c *cache.Coordinator, cfg Config) *Service {
	if cfg.Days <= 0 {
		cfg.Days = defaultDays
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{src: src, cache: c, cfg: cfg, now: time.Now}
}

// UpDown returns the memoized history, recomputing it after the daily expiry.
func (s *Service) UpDown(ctx context.Context) ([]Authority, error) {
	return s.fetch(ctx, false)
}

// Refresh recomputes and re-memoizes the history.
func (s *Service) Refresh(ctx context.Context) ([]Authority, error) {
	return s.fetch(ctx, true)
}

func (s *Service) fetch(ctx context.Context, force bool) ([]Authority, error) {
	now := s.now()
	opts := cache.FetchOptions{
		ExpiresAt: cache.NextExpiry(now, s.cfg.Location, s.cfg.ExpiryHour),
		Force:     force,
	}
	return cache.Fetch(ctx, s.cache, cacheKey, opts, func(ctx context.Context) ([]Authority, error) {
		return s.Compute(ctx, now)
	})
}

type tally struct{ good, unknown, bad, timeout int }

// Compute classifies the trailing days ending with the day containing now.
func (s *Service) Compute(ctx context.Context, now time.Time) ([]Authority, error) {
	loc := s.cfg.Location
	today := timewindow.BeginningOfDay(now.In(loc))
	start := today.AddDate(0, 0, -(s.cfg.Days - 1))
	dates := make([]string, s.cfg.Days)
	index := make(map[string]int, s.cfg.Days)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i).Format(dateLayout)
		index[dates[i]] = i
	}

	rows, err := s.src.ResultsSince(ctx, start)
	if err != nil {
		return nil, eris.Wrap(err, "history: load results")
	}

	fold := cases.Fold()
	needle := fold.String("timeout")
	counts := make(map[string][]tally)
	for _, a := range s.cfg.Authorities {
		counts[a] = make([]tally, s.cfg.Days)
	}
	for _, r := range rows {
		i, ok := index[r.RunAt.In(loc).Format(dateLayout)]
		if !ok {
			continue
		}
		days, ok := counts[r.Authority]
		if !ok {
			days = make([]tally, s.cfg.Days)
			counts[r.Authority] = days
		}
		switch {
		case r.Status.Passing():
			days[i].good++
		case r.Status == model.StatusUnknown:
			days[i].unknown++
		default:
			days[i].bad++
			if strings.Contains(fold.String(r.ErrorMessage), needle) {
				days[i].timeout++
			}
		}
	}

	out := make([]Authority, 0, len(counts))
	for name, days := range counts {
		a := Authority{Authority: name, Days: make([]Day, len(days))}
		for i, t := range days {
			a.Days[i] = Day{
				Date:    dates[i],
				Status:  Determine(t.good, t.unknown, t.bad, t.timeout),
				Good:    t.good,
				Unknown: t.unknown,
				Bad:     t.bad,
				Timeout: t.timeout,
			}
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Authority < out[j].Authority })
	return out, nil
}
