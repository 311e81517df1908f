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
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "Filter by status (PENDING|ASSIGNED|COMPLETED|FAILED|CANCELLED)")
	tasksCmd.AddCommand(tasksCancelCmd)
	rootCmd.AddCommand(tasksCmd)
}

var tasksStatus string

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks",
	RunE:  runTasks,
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel TASK_ID",
	Short: "Cancel a pending task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksCancel,
}

func runTasks(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	path := "/api/tasks"
	if tasksStatus != "" {
		path += "?status=" + strings.ToUpper(tasksStatus)
	}

	var resp struct {
		Tasks []domain.Task `json:"tasks"`
	}
	if err := c.get(path, &resp); err != nil {
		return err
	}
	if len(resp.Tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tSTATUS\tCAPABILITIES\tASSIGNED TO\tCREATED")
	for _, t := range resp.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			domain.PriorityLabel(t.Priority),
			t.Status,
			strings.Join(t.RequiredCaps, ","),
			t.AssignedTo,
			t.CreatedAt.Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func runTasksCancel(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var t domain.Task
	if err := c.del("/api/tasks/"+args[0], &t); err != nil {
		return err
	}
	fmt.Printf("Task %s is now %s\n", t.ID, t.Status)
	return nil
}
