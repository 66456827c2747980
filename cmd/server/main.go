// Package main is the perf-api command line: the HTTP service plus one-shot
// run, migrate and health commands sharing the same wiring.
package main

// File: cmd/server/main.go
// Purpose: Process entrypoint and cobra root command.
// Key entrypoints: main(), newRootCmd()

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is reported by --version.
const Version = "0.1.0"

type globalFlags struct {
	envFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "perf-api",
		Short:         "Performance test orchestrator with AI-assisted analysis",
		Long:          "perf-api generates JMeter plans, runs them, stores per-minute metrics in MySQL\nand asks configured LLM providers for an analysis report.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// No subcommand means serve.
			return runServe(cmd.Context(), g)
		},
	}
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the environment is decoded")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override LOG_LEVEL")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newServeCmd(g),
		newRunCmd(g),
		newMigrateCmd(g),
		newHealthCmd(g),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
