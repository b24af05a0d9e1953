package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/authority-monitor/internal/graph"
)

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Performance statistics and graphs",
}

// -- perf datatable --

var perfDatatableCmd = &cobra.Command{
	Use:   "datatable",
	Short: "Print the performance datatable",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer env.Close()

		force, _ := cmd.Flags().GetBool("force")
		dt, err := env.Perf.Datatable(ctx, force)
		if err != nil {
			return eris.Wrap(err, "perf datatable")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return encodeJSON(dt)
		}
		formatDatatable(os.Stdout, dt)
		return nil
	},
}

// -- perf graphs --

var perfGraphsCmd = &cobra.Command{
	Use:   "graphs",
	Short: "Render every performance graph as PNG",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer env.Close()

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.Performance.GraphDir
		}

		_, graphs, err := env.Perf.Graphs(ctx)
		if err != nil {
			return eris.Wrap(err, "perf graphs")
		}
		n, err := graph.NewWriter(dir, graph.NewPNGRenderer()).WriteAll(graphs)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Wrote %d graphs to %s\n", n, dir)
		return nil
	},
}

// -- perf buffer --

var perfBufferCmd = &cobra.Command{
	Use:   "buffer",
	Short: "Show the write buffer ceiling",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintf(os.Stdout, "Buffer ceiling: %s (%s)\n",
			humanize.Bytes(uint64(cfg.BufferBytes())), cfg.Performance.BufferMaxSize)
		return nil
	},
}

func init() {
	perfDatatableCmd.Flags().Bool("force", false, "recompute instead of serving the cached table")
	perfDatatableCmd.Flags().Bool("json", false, "print JSON instead of a table")
	perfGraphsCmd.Flags().String("dir", "", "output directory (default performance.graph_dir)")

	perfCmd.AddCommand(perfDatatableCmd)
	perfCmd.AddCommand(perfGraphsCmd)
	perfCmd.AddCommand(perfBufferCmd)
	rootCmd.AddCommand(perfCmd)
}
