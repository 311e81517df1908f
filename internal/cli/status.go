package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/synapse-grid/synapse/internal/orchestrator"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var stats orchestrator.Stats
	if err := c.get("/api/status", &stats); err != nil {
		return err
	}

	fmt.Printf("Ticks: %d (last %s ago)\n", stats.Ticks, time.Since(stats.LastTick).Round(time.Second))
	fmt.Println("Modules:")
	for status, n := range stats.Modules {
		fmt.Printf("  %-12s %d\n", status, n)
	}
	fmt.Println("Tasks:")
	for status, n := range stats.Tasks {
		fmt.Printf("  %-12s %d\n", status, n)
	}
	if stats.PendingIO > 0 {
		fmt.Printf("Pending writes: %d\n", stats.PendingIO)
	}
	for _, u := range stats.UnmetDemand {
		fmt.Printf("UNMET DEMAND: {%s} since %s\n",
			strings.Join(u.Capabilities, ", "), u.Since.Format(time.RFC3339))
	}
	return nil
}
