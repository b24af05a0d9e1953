package store

import (
	"context"
	"time"

	"github.com/sells-group/authority-monitor/internal/model"
)

// PerformanceFilter narrows PerformanceRecords. Zero fields match everything;
// model.AllAuthorities and model.ActionAll are treated as zero.
type PerformanceFilter struct {
	Authority string
	Action    model.Action
	// Since is inclusive, Until exclusive.
	Since time.Time
	Until time.Time
}

func (f PerformanceFilter) authority() string {
	if f.Authority == model.AllAuthorities {
		return ""
	}
	return f.Authority
}

func (f PerformanceFilter) action() string {
	if f.Action == model.ActionAll {
		return ""
	}
	return string(f.Action)
}

// Store persists scenario runs, their results and performance samples.
type Store interface {
	// Runs
	SaveRun(ctx context.Context, createdAt time.Time, results []model.ScenarioResult) (*model.ScenarioRun, error)
	LatestRun(ctx context.Context) (*model.ScenarioRun, error)
	GetRun(ctx context.Context, runID int64) (*model.ScenarioRun, error)

	// Results
	RunResults(ctx context.Context, runID int64) ([]model.ScenarioResult, error)
	RunFailures(ctx context.Context, runID int64) ([]model.ScenarioResult, error)
	RunStatusCounts(ctx context.Context, runID int64) ([]model.StatusCount, error)
	StatusCountsSince(ctx context.Context, since time.Time) ([]model.StatusCount, error)
	ResultsSince(ctx context.Context, since time.Time) ([]model.ResultRow, error)

	// Performance
	SavePerformanceRecords(ctx context.Context, records []model.PerformanceRecord) error
	PerformanceRecords(ctx context.Context, filter PerformanceFilter) ([]model.PerformanceRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
