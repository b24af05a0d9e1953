package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/authority-monitor/internal/timewindow"
)

var runsJSON bool

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect scenario run history",
	Long:  "Commands for viewing the latest run, its failures, and pass/fail history.",
}

// -- runs latest --

var runsLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Summarize the latest run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Registry.LatestSummary(ctx)
		if err != nil {
			return eris.Wrap(err, "runs latest")
		}
		if sum == nil {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		if runsJSON {
			return encodeJSON(sum)
		}
		formatSummary(os.Stdout, *sum)
		return nil
	},
}

// -- runs failures --

var runsFailuresCmd = &cobra.Command{
	Use:   "failures [run-id]",
	Short: "List failing scenarios of a run (default latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer env.Close()

		var id int64
		if len(args) == 1 {
			id, err = strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return eris.Wrapf(err, "runs failures: bad run id %q", args[0])
			}
		} else {
			run, err := env.Registry.LatestRun(ctx)
			if err != nil {
				return eris.Wrap(err, "runs failures")
			}
			if run == nil {
				fmt.Fprintln(os.Stderr, "No runs found.")
				return nil
			}
			id = run.ID
		}

		failures, err := env.Registry.RunFailures(ctx, id)
		if err != nil {
			return eris.Wrap(err, "runs failures")
		}
		if runsJSON {
			return encodeJSON(failures)
		}
		if len(failures) == 0 {
			fmt.Fprintf(os.Stderr, "No failures in run %d.\n", id)
			return nil
		}
		formatFailures(os.Stdout, failures)
		return nil
	},
}

// -- runs history --

var runsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show pass/fail counts per authority over a window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		w, _ := cmd.Flags().GetString("window")
		win, err := timewindow.Parse(w)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer env.Close()

		hist, err := env.Registry.HistoricalSummary(ctx, win)
		if err != nil {
			return eris.Wrap(err, "runs history")
		}
		if runsJSON {
			return encodeJSON(hist)
		}
		formatHistory(os.Stdout, hist)
		return nil
	},
}

// -- runs updown --

var runsUpDownCmd = &cobra.Command{
	Use:   "updown",
	Short: "Show the daily up/down classification per authority",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer env.Close()

		force, _ := cmd.Flags().GetBool("force")
		get := env.History.UpDown
		if force {
			get = env.History.Refresh
		}
		hist, err := get(ctx)
		if err != nil {
			return eris.Wrap(err, "runs updown")
		}
		if runsJSON {
			return encodeJSON(hist)
		}
		formatUpDown(os.Stdout, hist)
		return nil
	},
}

func encodeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	runsCmd.PersistentFlags().BoolVar(&runsJSON, "json", false, "print JSON instead of a table")
	runsHistoryCmd.Flags().String("window", string(timewindow.Month), "history window (day, month, year, all)")
	runsUpDownCmd.Flags().Bool("force", false, "recompute instead of serving the cached classification")

	runsCmd.AddCommand(runsLatestCmd)
	runsCmd.AddCommand(runsFailuresCmd)
	runsCmd.AddCommand(runsHistoryCmd)
	runsCmd.AddCommand(runsUpDownCmd)
	rootCmd.AddCommand(runsCmd)
}
