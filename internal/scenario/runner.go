package scenario

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/authority-monitor/internal/model"
)

// RunSaver persists one run's results.
type RunSaver interface {
	SaveRun(ctx context.Context, results []model.ScenarioResult) (*model.ScenarioRun, error)
}

// Runner validates every authority and stores the combined log as a run.
type Runner struct {
	validator   *Validator
	saver       RunSaver
	concurrency int
}

// NewRunner creates a Runner. concurrency bounds how many authorities are
// validated at once.
func NewRunner(v *Validator, saver RunSaver, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Runner{validator: v, saver: saver, concurrency: concurrency}
}

// RunAll validates defs in parallel, keeps the results in definition order
// and saves them as a single run.
func (r *Runner) RunAll(ctx context.Context, defs []Definition) (*model.ScenarioRun, *ResultLog, error) {
	log := zap.L().With(zap.String("component", "scenario"))
	start := time.Now()

	logs := make([]*ResultLog, len(defs))
	var failing atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, def := range defs {
		g.Go(func() error {
			l := r.validator.Validate(gctx, def)
			logs[i] = l
			if l.FailureCount() > 0 {
				failing.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "scenario: run cancelled")
	}

	all := NewResultLog()
	for _, l := range logs {
		all.Append(l)
	}

	run, err := r.saver.SaveRun(ctx, all.Results())
	if err != nil {
		return nil, all, eris.Wrap(err, "scenario: save run")
	}

	log.Info("scenario run complete",
		zap.Int64("run_id", run.ID),
		zap.Int("authorities", len(defs)),
		zap.Int64("failing_authorities", failing.Load()),
		zap.Int("scenarios", all.TestCount()),
		zap.Int("failures", all.FailureCount()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return run, all, nil
}
