// Package jobs schedules the monitor cycle and the aggregate refreshes.
//
// Every job claims a cluster-wide gate through the cache coordinator before it
// runs, so with several processes sharing one Redis only one of them executes
// a given job at a time. Losers skip silently until the next tick.
package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/authority-monitor/internal/cache"
	"github.com/sells-group/authority-monitor/internal/history"
	"github.com/sells-group/authority-monitor/internal/metrics"
	"github.com/sells-group/authority-monitor/internal/model"
	"github.com/sells-group/authority-monitor/internal/perf"
	"github.com/sells-group/authority-monitor/internal/perfbuffer"
	"github.com/sells-group/authority-monitor/internal/scenario"
)

// Job names; also the suffix of each job's gate key.
const (
	JobMonitor   = "monitor"
	JobDatatable = "datatable"
	JobGraphs    = "graphs"
	JobUpDown    = "updown"
	JobFlush     = "flush"
)

// MonitorRunner executes one scenario run.
type MonitorRunner interface {
	RunAll(ctx context.Context, defs []scenario.Definition) (*model.ScenarioRun, *scenario.ResultLog, error)
}

// SummarySource summarizes a stored run.
type SummarySource interface {
	RunSummary(ctx context.Context, runID int64) (model.RunSummary, error)
}

// Aggregator produces the performance aggregates.
type Aggregator interface {
	Datatable(ctx context.Context, force bool) (perf.Datatable, error)
	Graphs(ctx context.Context) (perf.Tree, []perf.Graph, error)
	NextExpiry() time.Time
}

// GraphWriter renders graphs to their destination.
type GraphWriter interface {
	WriteAll(graphs []perf.Graph) (int, error)
}

// Flusher persists buffered performance samples.
type Flusher interface {
	WriteAll(ctx context.Context) (perfbuffer.FlushResult, error)
}

// UpDownRefresher recomputes the up/down history.
type UpDownRefresher interface {
	Refresh(ctx context.Context) ([]history.Authority, error)
}

// Observer receives job and run outcomes.
type Observer interface {
	ObserveJob(job, outcome string, d time.Duration)
	ObserveRun(s model.RunSummary)
}

// Deps wires the scheduler to the services it drives. Nil services disable
// their jobs.
type Deps struct {
	Cache       *cache.Coordinator
	Runner      MonitorRunner
	Definitions func() ([]scenario.Definition, error)
	Summaries   SummarySource
	Perf        Aggregator
	Graphs      GraphWriter
	Buffer      Flusher
	UpDown      UpDownRefresher
	Observer    Observer
}

// Intervals sets how often each job fires.
type Intervals struct {
	Monitor   time.Duration
	Aggregate time.Duration
	// Flush enables a periodic buffer flush when positive. Entries still in
	// flight at a flush are dropped as incomplete, so it is off by default;
	// the size ceiling and the post-run flush cover durability.
	Flush time.Duration
}

func (iv Intervals) withDefaults() Intervals {
	if iv.Monitor <= 0 {
		iv.Monitor = time.Hour
	}
	if iv.Aggregate <= 0 {
		iv.Aggregate = 15 * time.Minute
	}
	return iv
}

// Scheduler runs the jobs on a gocron scheduler.
type Scheduler struct {
	deps      Deps
	intervals Intervals
	loc       *time.Location
	now       func() time.Time
	log       *zap.Logger

	sched gocron.Scheduler
}

// New creates a Scheduler. Jobs fire in loc.
func New(deps Deps, intervals Intervals, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		deps:      deps,
		intervals: intervals.withDefaults(),
		loc:       loc,
		now:       time.Now,
		log:       zap.L().With(zap.String("component", "jobs")),
	}
}

// Start registers every enabled job and starts the scheduler. Jobs run with
// ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithLocation(s.loc))
	if err != nil {
		return eris.Wrap(err, "jobs: create scheduler")
	}

	type job struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
		enabled  bool
	}
	defs := []job{
		{JobMonitor, s.intervals.Monitor, s.RunMonitor, s.deps.Runner != nil && s.deps.Definitions != nil},
		{JobDatatable, s.intervals.Aggregate, func(ctx context.Context) error { return s.RunDatatable(ctx, false) }, s.deps.Perf != nil},
		{JobGraphs, s.intervals.Aggregate, s.RunGraphs, s.deps.Perf != nil && s.deps.Graphs != nil},
		{JobUpDown, s.intervals.Aggregate, func(ctx context.Context) error { return s.RunUpDown(ctx, false) }, s.deps.UpDown != nil && s.deps.Perf != nil},
		{JobFlush, s.intervals.Flush, s.RunFlush, s.deps.Buffer != nil && s.intervals.Flush > 0},
	}
	for _, j := range defs {
		if !j.enabled {
			continue
		}
		_, err := sched.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() {
				if err := j.run(ctx); err != nil {
					s.log.Error("job failed", zap.String("job", j.name), zap.Error(err))
				}
			}),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			_ = sched.Shutdown()
			return eris.Wrapf(err, "jobs: register %s", j.name)
		}
		s.log.Info("job scheduled", zap.String("job", j.name), zap.Duration("interval", j.interval))
	}

	s.sched = sched
	sched.Start()
	return nil
}

// Stop waits for running jobs and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	if s.sched == nil {
		return nil
	}
	return eris.Wrap(s.sched.Shutdown(), "jobs: shutdown")
}

// gated runs fn only when this caller wins the job gate. A lost gate is not
// an error: another worker is already running the job.
func (s *Scheduler) gated(ctx context.Context, name string, fn func(context.Context) error) error {
	start := s.now()
	jobID := uuid.NewString()
	key := "jobs:" + name

	won, err := s.deps.Cache.ActiveJobID(ctx, key, jobID)
	if err != nil {
		s.observe(name, metrics.OutcomeError, start)
		return eris.Wrapf(err, "jobs: claim %s", name)
	}
	if !won {
		s.log.Info("job already running elsewhere, skipping", zap.String("job", name))
		s.observe(name, metrics.OutcomeSkipped, start)
		return nil
	}
	defer func() {
		if err := s.deps.Cache.ResetJobID(context.WithoutCancel(ctx), key); err != nil {
			s.log.Warn("release job gate", zap.String("job", name), zap.Error(err))
		}
	}()

	log := s.log.With(zap.String("job", name), zap.String("job_id", jobID))
	log.Info("job started")
	if err := fn(ctx); err != nil {
		s.observe(name, metrics.OutcomeError, start)
		return err
	}
	s.observe(name, metrics.OutcomeSuccess, start)
	log.Info("job finished", zap.Duration("elapsed", s.now().Sub(start)))
	return nil
}

func (s *Scheduler) observe(job, outcome string, start time.Time) {
	if s.deps.Observer != nil {
		s.deps.Observer.ObserveJob(job, outcome, s.now().Sub(start))
	}
}

// expired reports whether the daily boundary for job has passed since it last
// ran. force always reports true.
func (s *Scheduler) expired(ctx context.Context, job string, force bool) (bool, error) {
	ok, err := s.deps.Cache.CacheExpired(ctx, "jobs:"+job+":expired", force, s.deps.Perf.NextExpiry())
	if err != nil {
		return false, eris.Wrapf(err, "jobs: check %s expiry", job)
	}
	return ok, nil
}

// RunMonitor executes every scenario definition as one run.
func (s *Scheduler) RunMonitor(ctx context.Context) error {
	return s.gated(ctx, JobMonitor, func(ctx context.Context) error {
		defs, err := s.deps.Definitions()
		if err != nil {
			return eris.Wrap(err, "jobs: load definitions")
		}
		run, results, err := s.deps.Runner.RunAll(ctx, defs)
		if err != nil {
			return eris.Wrap(err, "jobs: run scenarios")
		}
		s.log.Info("scenario run stored",
			zap.Int64("run_id", run.ID),
			zap.Int("tests", results.TestCount()),
			zap.Int("failures", results.FailureCount()),
		)
		if s.deps.Buffer != nil {
			if _, err := s.deps.Buffer.WriteAll(ctx); err != nil {
				s.log.Warn("flush after run", zap.Error(err))
			}
		}
		if s.deps.Summaries != nil && s.deps.Observer != nil {
			sum, err := s.deps.Summaries.RunSummary(ctx, run.ID)
			if err != nil {
				return eris.Wrap(err, "jobs: summarize run")
			}
			s.deps.Observer.ObserveRun(sum)
		}
		return nil
	})
}

// RunDatatable recomputes the datatable once per daily boundary, or
// immediately when force is set.
func (s *Scheduler) RunDatatable(ctx context.Context, force bool) error {
	expired, err := s.expired(ctx, JobDatatable, force)
	if err != nil || !expired {
		return err
	}
	return s.gated(ctx, JobDatatable, func(ctx context.Context) error {
		dt, err := s.deps.Perf.Datatable(ctx, true)
		if err != nil {
			return err
		}
		s.log.Info("datatable refreshed", zap.Int("rows", len(dt.Rows)))
		return nil
	})
}

// RunGraphs regenerates every graph image. The current hour changes on every
// tick, so this job is not held to the daily boundary.
func (s *Scheduler) RunGraphs(ctx context.Context) error {
	return s.gated(ctx, JobGraphs, func(ctx context.Context) error {
		_, graphs, err := s.deps.Perf.Graphs(ctx)
		if err != nil {
			return err
		}
		_, err = s.deps.Graphs.WriteAll(graphs)
		return err
	})
}

// RunUpDown recomputes the up/down history once per daily boundary.
func (s *Scheduler) RunUpDown(ctx context.Context, force bool) error {
	expired, err := s.expired(ctx, JobUpDown, force)
	if err != nil || !expired {
		return err
	}
	return s.gated(ctx, JobUpDown, func(ctx context.Context) error {
		_, err := s.deps.UpDown.Refresh(ctx)
		return err
	})
}

// RunFlush persists buffered samples. Each process owns its buffer, so the
// flush is not gated. Scheduled only when Intervals.Flush is set.
func (s *Scheduler) RunFlush(ctx context.Context) error {
	start := s.now()
	_, err := s.deps.Buffer.WriteAll(ctx)
	if err != nil {
		s.observe(JobFlush, metrics.OutcomeError, start)
		return err
	}
	s.observe(JobFlush, metrics.OutcomeSuccess, start)
	return nil
}
