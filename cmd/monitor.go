package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/authority-monitor/internal/scenario"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run or inspect authority scenarios",
}

// -- monitor run --

var monitorRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every scenario once and store the results as a new run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer env.Close()

		only, _ := cmd.Flags().GetStringSlice("authority")
		defs := filterDefinitions(env.Definitions, only)
		if len(defs) == 0 {
			return eris.Errorf("monitor run: no scenario definitions in %s", cfg.Monitor.ScenariosDir)
		}

		run, log, err := env.Runner.RunAll(ctx, defs)
		if err != nil {
			return eris.Wrap(err, "monitor run")
		}
		zap.L().Info("run complete", zap.Int64("run_id", run.ID), zap.Int("tests", log.TestCount()))

		sum, err := env.Registry.RunSummary(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "monitor run: summarize")
		}
		formatSummary(os.Stdout, sum)

		if log.FailureCount() > 0 {
			log.DeletePassing()
			fmt.Fprintln(os.Stdout)
			formatFailures(os.Stdout, log.Results())
		}
		return nil
	},
}

// -- monitor list --

var monitorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the scenario definitions that would run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		defs, err := scenario.LoadDefinitions(cfg.Monitor.ScenariosDir)
		if err != nil {
			return err
		}
		for _, d := range defs {
			fmt.Fprintf(os.Stdout, "%s\t%s\tsearch=%d term=%d\n", d.Authority, d.Service, len(d.Search), len(d.Term))
		}
		return nil
	},
}

func filterDefinitions(defs []scenario.Definition, authorities []string) []scenario.Definition {
	if len(authorities) == 0 {
		return defs
	}
	var out []scenario.Definition
	for _, d := range defs {
		if slices.Contains(authorities, d.Authority) {
			out = append(out, d)
		}
	}
	return out
}

func init() {
	monitorRunCmd.Flags().StringSlice("authority", nil, "only run these authorities")

	monitorCmd.AddCommand(monitorRunCmd)
	monitorCmd.AddCommand(monitorListCmd)
	rootCmd.AddCommand(monitorCmd)
}
