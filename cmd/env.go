package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/authority-monitor/internal/authority"
	"github.com/sells-group/authority-monitor/internal/cache"
	"github.com/sells-group/authority-monitor/internal/config"
	"github.com/sells-group/authority-monitor/internal/history"
	"github.com/sells-group/authority-monitor/internal/metrics"
	"github.com/sells-group/authority-monitor/internal/perf"
	"github.com/sells-group/authority-monitor/internal/perfbuffer"
	"github.com/sells-group/authority-monitor/internal/resilience"
	"github.com/sells-group/authority-monitor/internal/runs"
	"github.com/sells-group/authority-monitor/internal/scenario"
	"github.com/sells-group/authority-monitor/internal/store"
)

// appEnv is every long-lived component of one process.
type appEnv struct {
	Store       store.Store
	Cache       *cache.Coordinator
	Metrics     *metrics.Metrics
	Buffer      *perfbuffer.Buffer
	Registry    *runs.Registry
	History     *history.Service
	Perf        *perf.Service
	Runner      *scenario.Runner
	Definitions []scenario.Definition

	closers []func() error
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		return store.NewSQLite(c.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

func initCache(ctx context.Context, c *config.Config) (*cache.Coordinator, func() error, error) {
	opts := []cache.Option{cache.WithJobLock(time.Duration(c.Cache.JobLockMinutes) * time.Minute)}
	switch c.Cache.Backend {
	case "redis":
		rb, err := cache.NewRedis(ctx, c.Cache.RedisAddr, c.Cache.RedisPassword, c.Cache.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return cache.New(rb, opts...), rb.Close, nil
	default:
		return cache.New(cache.NewMemory(time.Now), opts...), func() error { return nil }, nil
	}
}

// initEnv builds the full component graph. Scenario definitions are loaded
// only when withScenarios is set.
func initEnv(ctx context.Context, c *config.Config, withScenarios bool) (*appEnv, error) {
	env := &appEnv{Metrics: metrics.New()}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	env.Store = st
	env.closers = append(env.closers, st.Close)
	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, err
	}

	cc, closeCache, err := initCache(ctx, c)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Cache = cc
	env.closers = append(env.closers, closeCache)

	env.Buffer = perfbuffer.New(st, c.BufferBytes(), perfbuffer.WithObserver(env.Metrics))
	env.Registry = runs.NewRegistry(st, cc, runs.WithTTL(
		time.Duration(c.Cache.SummaryCacheTTLMins)*time.Minute, c.RaceConditionTTL()))

	if withScenarios {
		defs, err := scenario.LoadDefinitions(c.Monitor.ScenariosDir)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Definitions = defs
	}
	authorities := scenario.Authorities(env.Definitions)

	env.History = history.NewService(st, cc, history.Config{
		Days:        c.History.UpDownDays,
		Location:    c.Location(),
		ExpiryHour:  c.Monitor.HourOffsetToExpireCache,
		Authorities: authorities,
	})

	dtWindow, err := c.DatatableWindowValue()
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Perf = perf.NewService(st, env.Buffer, cc, perf.Config{
		Authorities:     authorities,
		DatatableWindow: dtWindow,
		Location:        c.Location(),
		ExpiryHour:      c.Monitor.HourOffsetToExpireCache,
		RefreshCurrent:  c.RefreshWindows(),
		RaceTTL:         c.RaceConditionTTL(),
	})

	var client authority.Client = authority.NewHTTPClient(authority.Options{
		BaseURL:    c.Authority.BaseURL,
		Timeout:    time.Duration(c.Authority.TimeoutSecs) * time.Second,
		RatePerSec: c.Authority.RatePerSec,
		Retry:      resilience.Policy{Attempts: c.Authority.MaxRetries, Label: "authority"},
		Breakers:   resilience.NewBreakers(5, time.Minute),
	})
	if c.Performance.Enabled {
		client = authority.NewTracked(client, env.Buffer, authority.WithRequestObserver(env.Metrics))
	}
	env.Runner = scenario.NewRunner(scenario.NewValidator(client), env.Registry, c.Monitor.Concurrency)

	return env, nil
}

// Close flushes buffered samples and releases every resource, last opened
// first.
func (e *appEnv) Close() {
	if e.Buffer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := e.Buffer.WriteAll(ctx); err != nil {
			zap.L().Warn("final buffer flush failed", zap.Error(err))
		}
		cancel()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}
