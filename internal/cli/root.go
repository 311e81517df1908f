// Package cli implements the synapse command-line interface using Cobra.
// Each subcommand maps to an orchestrator capability (serve, submit,
// modules, tasks, status).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "synapse",
	Short: "Synapse — capability-based task orchestration",
	Long: `Synapse coordinates a network of worker modules.
Modules register capability tags and heartbeat; submitted tasks are matched
to the best-scoring capable module each scheduling tick.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
