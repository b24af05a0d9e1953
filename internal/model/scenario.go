package model

import "time"

// ScenarioStatus is the tri-state outcome of one scenario execution.
type ScenarioStatus string

const (
	StatusPass    ScenarioStatus = "good"
	StatusFail    ScenarioStatus = "bad"
	StatusUnknown ScenarioStatus = "unknown"
)

// Passing reports whether the status counts as a pass. Unknown is failing for
// count purposes.
func (s ScenarioStatus) Passing() bool {
	return s == StatusPass
}

// Action identifies the authority operation a scenario or sample exercised.
type Action string

const (
	ActionFetch  Action = "fetch"
	ActionSearch Action = "search"

	// ActionAll aggregates over every action.
	ActionAll Action = "all_actions"
)

// Actions lists the concrete authority actions.
var Actions = []Action{ActionFetch, ActionSearch}

// ScenarioType classifies what a scenario validates.
type ScenarioType string

const (
	ScenarioConnection  ScenarioType = "connection"
	ScenarioAccuracy    ScenarioType = "accuracy"
	ScenarioPerformance ScenarioType = "performance"

	// ScenarioAll matches every scenario type when filtering.
	ScenarioAll ScenarioType = "all"
)

// AllAuthorities is the sentinel authority name for cross-authority aggregates.
const AllAuthorities = "all_authorities"

// ScenarioResult is one immutable scenario outcome.
type ScenarioResult struct {
	ID           int64          `json:"id,omitempty"`
	RunID        int64          `json:"run_id,omitempty"`
	Status       ScenarioStatus `json:"status"`
	Authority    string         `json:"authority_name"`
	Subauthority string         `json:"subauthority_name,omitempty"`
	Service      string         `json:"service"`
	Action       Action         `json:"action"`
	URL          string         `json:"url"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ScenarioType ScenarioType   `json:"scenario_type"`
	RunTime      time.Duration  `json:"run_time,omitempty"`
	Expected     *int           `json:"expected,omitempty"`
	Actual       *int           `json:"actual,omitempty"`
	Target       string         `json:"target,omitempty"`
}

// ScenarioRun is one batch execution of every scenario for every authority.
type ScenarioRun struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// RunSummary is derived from the result rows of a single run.
type RunSummary struct {
	RunID                 int64     `json:"run_id"`
	Timestamp             time.Time `json:"timestamp"`
	AuthorityCount        int       `json:"authority_count"`
	FailingAuthorityCount int       `json:"failing_authority_count"`
	PassingScenarioCount  int       `json:"passing_scenario_count"`
	FailingScenarioCount  int       `json:"failing_scenario_count"`
	TotalScenarioCount    int       `json:"total_scenario_count"`
}

// StatusCount is a grouped count of result rows for one authority and status.
type StatusCount struct {
	Authority string         `json:"authority"`
	Status    ScenarioStatus `json:"status"`
	Count     int            `json:"count"`
}

// AuthorityHistory summarizes one authority's results over a time window.
// Bad includes unknown results.
type AuthorityHistory struct {
	Authority string `json:"authority"`
	Good      int    `json:"good"`
	Bad       int    `json:"bad"`
}

// ResultRow is the slice of a result needed for daily up/down classification.
type ResultRow struct {
	Authority    string         `json:"authority"`
	Status       ScenarioStatus `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	RunAt        time.Time      `json:"run_at"`
}
