package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"finopstrack/internal/catalog"
	finopsmcp "finopstrack/internal/mcp"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one SLA sweep and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cmd, os.Stderr)
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())
		report, err := a.detector.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset due daily tasks, or one task with --task",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cmd, os.Stderr)
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		taskID, _ := cmd.Flags().GetInt64("task")
		if taskID > 0 {
			user, _ := cmd.Flags().GetString("user")
			task, err := a.resetter.RunTask(cmd.Context(), taskID, user)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %d %q reset, next run %s\n",
				task.ID, task.Name, task.NextRun.In(a.engine.Location()).Format("2006-01-02 15:04"))
			return nil
		}
		report, err := a.resetter.ResetDue(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <catalog.yaml>",
	Short: "Create tasks from a YAML catalog, skipping names that already exist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := catalog.ParseFile(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cmd, os.Stderr)
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		user, _ := cmd.Flags().GetString("user")
		report, err := catalog.NewImporter(a.engine, a.logger).Import(cmd.Context(), f, user)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "created: %d, skipped: %d, failed: %d\n", len(report.Created), len(report.Skipped), len(report.Failed))
		for _, name := range report.Skipped {
			fmt.Fprintf(out, "  skipped %q (already exists)\n", name)
		}
		return err
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools on stdin/stdout without the HTTP API or sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		a, err := newApp(ctx, cmd, os.Stderr)
		if err != nil {
			return err
		}
		defer a.close(ctx)
		return finopsmcp.NewMCPServer(a.engine, a.detector, a.resetter, a.logger, version).RunStdio(ctx)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
