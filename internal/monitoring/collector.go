package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/authority-monitor/internal/history"
	"github.com/sells-group/authority-monitor/internal/model"
)

// Snapshot holds a point-in-time view of authority health.
type Snapshot struct {
	// Latest run; zero when nothing has run yet.
	RunID                 int64     `json:"run_id"`
	RunAt                 time.Time `json:"run_at"`
	AuthorityCount        int       `json:"authority_count"`
	FailingAuthorityCount int       `json:"failing_authority_count"`
	FailingAuthorityRatio float64   `json:"failing_authority_ratio"`
	FailingScenarioCount  int       `json:"failing_scenario_count"`
	TotalScenarioCount    int       `json:"total_scenario_count"`
	FailingAuthorities    []string  `json:"failing_authorities,omitempty"`

	// Authorities whose most recent day classifies as down.
	DownAuthorities []string `json:"down_authorities,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// RunSource supplies the latest run summary and its failures.
type RunSource interface {
	LatestSummary(ctx context.Context) (*model.RunSummary, error)
	RunFailures(ctx context.Context, runID int64) ([]model.ScenarioResult, error)
}

// UpDownSource supplies daily classifications.
type UpDownSource interface {
	UpDown(ctx context.Context) ([]history.Authority, error)
}

// Collector gathers a snapshot from the run registry and up/down history.
type Collector struct {
	runs   RunSource
	updown UpDownSource
	now    func() time.Time
}

// NewCollector creates a new collector. updown may be nil.
func NewCollector(runs RunSource, updown UpDownSource) *Collector {
	return &Collector{runs: runs, updown: updown, now: time.Now}
}

// Collect gathers a snapshot.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: c.now().UTC()}

	sum, err := c.runs.LatestSummary(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: latest summary")
	}
	if sum != nil {
		snap.RunID = sum.RunID
		snap.RunAt = sum.Timestamp
		snap.AuthorityCount = sum.AuthorityCount
		snap.FailingAuthorityCount = sum.FailingAuthorityCount
		snap.FailingScenarioCount = sum.FailingScenarioCount
		snap.TotalScenarioCount = sum.TotalScenarioCount
		if sum.AuthorityCount > 0 {
			snap.FailingAuthorityRatio = float64(sum.FailingAuthorityCount) / float64(sum.AuthorityCount)
		}

		failures, err := c.runs.RunFailures(ctx, sum.RunID)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: run failures")
		}
		seen := make(map[string]bool)
		for _, f := range failures {
			if !seen[f.Authority] {
				seen[f.Authority] = true
				snap.FailingAuthorities = append(snap.FailingAuthorities, f.Authority)
			}
		}
		sort.Strings(snap.FailingAuthorities)
	}

	if c.updown != nil {
		hist, err := c.updown.UpDown(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: up/down history")
		}
		for _, a := range hist {
			if len(a.Days) == 0 || a.Authority == model.AllAuthorities {
				continue
			}
			if a.Days[len(a.Days)-1].Status == history.Down {
				snap.DownAuthorities = append(snap.DownAuthorities, a.Authority)
			}
		}
	}

	return snap, nil
}
