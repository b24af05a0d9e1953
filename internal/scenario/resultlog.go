// Package scenario defines authority self-test scenarios, executes them and
// collects their outcomes.
package scenario

import (
	"sync"

	"github.com/sells-group/authority-monitor/internal/model"
)

// ResultLog is an ordered, concurrency-safe collection of scenario results.
type ResultLog struct {
	mu      sync.Mutex
	results []model.ScenarioResult
}

// NewResultLog returns an empty log.
func NewResultLog() *ResultLog {
	return &ResultLog{}
}

// Add appends one result.
func (l *ResultLog) Add(r model.ScenarioResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, r)
}

// Filter returns the results of type t in insertion order. model.ScenarioAll
// returns everything.
func (l *ResultLog) Filter(t model.ScenarioType) []model.ScenarioResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.ScenarioResult, 0, len(l.results))
	for _, r := range l.results {
		if t == model.ScenarioAll || r.ScenarioType == t {
			out = append(out, r)
		}
	}
	return out
}

// DeletePassing drops every passing result, keeping failures and unknowns.
func (l *ResultLog) DeletePassing() {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.results[:0]
	for _, r := range l.results {
		if !r.Status.Passing() {
			kept = append(kept, r)
		}
	}
	clear(l.results[len(kept):])
	l.results = kept
}

// Append copies other's results onto the end of l.
func (l *ResultLog) Append(other *ResultLog) {
	if other == nil || other == l {
		return
	}
	rs := other.Results()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, rs...)
}

// TestCount is the number of results.
func (l *ResultLog) TestCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.results)
}

// FailureCount is the number of results that did not pass.
func (l *ResultLog) FailureCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.results {
		if !r.Status.Passing() {
			n++
		}
	}
	return n
}

// Results returns a copy of every result in insertion order.
func (l *ResultLog) Results() []model.ScenarioResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.ScenarioResult, len(l.results))
	copy(out, l.results)
	return out
}
