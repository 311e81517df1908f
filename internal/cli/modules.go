package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/synapse-grid/synapse/internal/domain"
)

func init() {
	modulesCmd.AddCommand(modulesResetCmd)
	rootCmd.AddCommand(modulesCmd)
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List registered modules",
	RunE:  runModules,
}

var modulesResetCmd = &cobra.Command{
	Use:   "reset MODULE_ID",
	Short: "Clear a module out of Error",
	Args:  cobra.ExactArgs(1),
	RunE:  runModulesReset,
}

func runModules(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var resp struct {
		Modules []domain.Module `json:"modules"`
	}
	if err := c.get("/api/modules", &resp); err != nil {
		return err
	}
	if len(resp.Modules) == 0 {
		fmt.Println("No modules registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSCORE\tCAPABILITIES\tLAST HEARTBEAT")
	for _, m := range resp.Modules {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\n",
			m.ID,
			m.Status,
			m.Score,
			strings.Join(m.Capabilities, ","),
			m.LastHeartbeat.Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func runModulesReset(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var m domain.Module
	if err := c.post("/api/modules/"+args[0]+"/reset", nil, &m); err != nil {
		return err
	}
	fmt.Printf("Module %s is now %s\n", m.ID, m.Status)
	return nil
}
