package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/authority-monitor/internal/api"
	"github.com/sells-group/authority-monitor/internal/graph"
	"github.com/sells-group/authority-monitor/internal/jobs"
	"github.com/sells-group/authority-monitor/internal/monitoring"
	"github.com/sells-group/authority-monitor/internal/scenario"
)

var (
	servePort    int
	serveNoJobs  bool
	serveOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API and run scheduled monitoring jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer env.Close()

		if !serveNoJobs {
			sched := jobs.New(jobDeps(env), jobs.Intervals{
				Monitor: time.Duration(cfg.Monitor.CheckIntervalSecs) * time.Second,
				Flush:   cfg.FlushInterval(),
			}, cfg.Location())
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := sched.Stop(); err != nil {
					zap.L().Warn("stop scheduler", zap.Error(err))
				}
			}()

			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Registry, env.History),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
				env.Metrics,
			)
			go checker.Run(ctx)
		}

		histWindow, err := cfg.HistoryWindow()
		if err != nil {
			return err
		}
		srv := api.NewServer(api.Deps{
			Store:         env.Store,
			Runs:          env.Registry,
			UpDown:        env.History,
			Perf:          env.Perf,
			Metrics:       env.Metrics.Handler(),
			HistoryWindow: histWindow,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.Router(serveOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("jobs", !serveNoJobs))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// jobDeps wires the scheduler to env. Definitions are reloaded on every
// monitor cycle so edits to the scenario files need no restart.
func jobDeps(env *appEnv) jobs.Deps {
	return jobs.Deps{
		Cache:  env.Cache,
		Runner: env.Runner,
		Definitions: func() ([]scenario.Definition, error) {
			return scenario.LoadDefinitions(cfg.Monitor.ScenariosDir)
		},
		Summaries: env.Registry,
		Perf:      env.Perf,
		Graphs:    graph.NewWriter(cfg.Performance.GraphDir, graph.NewPNGRenderer()),
		Buffer:    env.Buffer,
		UpDown:    env.History,
		Observer:  env.Metrics,
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoJobs, "no-jobs", false, "serve the API only, without scheduled jobs")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "cors-origin", nil, "allowed CORS origins (default any)")
	rootCmd.AddCommand(serveCmd)
}
