// Package store persists scenario runs and performance samples in SQLite or
// Postgres, and derives summaries from the stored rows.
package store

import (
	"sort"

	"github.com/sells-group/authority-monitor/internal/model"
)

// Summarize derives a run summary from grouped result counts. Unknown results
// count as failing.
func Summarize(run model.ScenarioRun, counts []model.StatusCount) model.RunSummary {
	s := model.RunSummary{RunID: run.ID, Timestamp: run.CreatedAt}
	authorities := make(map[string]bool)
	for _, c := range counts {
		if c.Count <= 0 {
			continue
		}
		failing := authorities[c.Authority]
		if c.Status.Passing() {
			s.PassingScenarioCount += c.Count
		} else {
			s.FailingScenarioCount += c.Count
			failing = true
		}
		authorities[c.Authority] = failing
		s.TotalScenarioCount += c.Count
	}
	s.AuthorityCount = len(authorities)
	for _, failing := range authorities {
		if failing {
			s.FailingAuthorityCount++
		}
	}
	return s
}

// SummarizeHistory folds grouped counts into per-authority good/bad totals,
// sorted by authority. Unknown results are folded into Bad.
func SummarizeHistory(counts []model.StatusCount) []model.AuthorityHistory {
	byAuth := make(map[string]*model.AuthorityHistory)
	for _, c := range counts {
		if c.Count <= 0 {
			continue
		}
		h, ok := byAuth[c.Authority]
		if !ok {
			h = &model.AuthorityHistory{Authority: c.Authority}
			byAuth[c.Authority] = h
		}
		if c.Status.Passing() {
			h.Good += c.Count
		} else {
			h.Bad += c.Count
		}
	}
	out := make([]model.AuthorityHistory, 0, len(byAuth))
	for _, h := range byAuth {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Authority < out[j].Authority })
	return out
}
