package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/synapse-grid/synapse/internal/domain"
)

func init() {
	submitCmd.Flags().StringVar(&submitPriority, "priority", "medium",
		"Task priority (critical|high|medium|low|emergent)")
	rootCmd.AddCommand(submitCmd)
}

var submitPriority string

var submitCmd = &cobra.Command{
	Use:   "submit CAPABILITY[,CAPABILITY...]",
	Short: "Submit a task requiring the given capability tags",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	caps := strings.Split(args[0], ",")

	priority, err := parsePriority(submitPriority)
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	body := map[string]interface{}{
		"required_caps": caps,
		"priority":      priority,
	}
	var task domain.Task
	if err := c.post("/api/tasks", body, &task); err != nil {
		return err
	}

	fmt.Printf("Submitted %s (%s, caps: %s)\n",
		task.ID, domain.PriorityLabel(task.Priority), strings.Join(task.RequiredCaps, ", "))
	return nil
}

func parsePriority(s string) (int, error) {
	switch strings.ToLower(s) {
	case "critical":
		return domain.PCritical, nil
	case "high":
		return domain.PHigh, nil
	case "medium":
		return domain.PMedium, nil
	case "low":
		return domain.PLow, nil
	case "emergent":
		return domain.PEmergent, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}
