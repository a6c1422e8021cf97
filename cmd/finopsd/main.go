package main

import (
	"fmt"
	"os"

	"finopstrack/internal/config"

	"github.com/spf13/cobra"

	_ "time/tzdata"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "finopsd",
	Short: "Recurring FinOps task tracker with SLA monitoring",
	Long: `finopsd tracks recurring operational checklists. Each task is a list of
subtasks with a scheduled start time; the daemon resets them every day, marks
late ones overdue, escalates to managers and keeps an append-only audit trail.`,
	SilenceUsage: true,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())

	serveCmd.Flags().Bool("mcp-stdio", false, "Also serve MCP tools on stdin/stdout")
	resetCmd.Flags().Int64("task", 0, "Reset only this task, regardless of its schedule")
	resetCmd.Flags().String("user", "", "Actor recorded for a single-task reset")
	importCmd.Flags().String("user", "", "Actor recorded on created tasks")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
