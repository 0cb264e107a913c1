package cli

// autonomy.go — cerebric autonomy command group.
//
// Commands:
//   cerebric autonomy status [--json]
//   cerebric autonomy exit-safe-mode [--user <u>]

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cerebric/cerebric/pkg/api"
)

// jobStateOrder fixes the rendering order of the per-state counts.
var jobStateOrder = []string{"pending", "running", "completed", "failed", "cancelled", "skipped", "rejected"}

func newAutonomyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autonomy",
		Short: "Inspect and control the supervisor's autonomy state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newAutonomyStatusCmd(a).RunE(cmd, args)
		},
	}
	cmd.AddCommand(
		newAutonomyStatusCmd(a),
		newExitSafeModeCmd(a),
	)
	return cmd
}

func newAutonomyStatusCmd(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervisor health, safe mode, and job counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var status api.StatusResponse
			if err := a.client().get(cmd.Context(), "/api/v1/status", &status); err != nil {
				return err
			}

			if jsonOut {
				b, _ := json.MarshalIndent(status, "", "  ")
				fmt.Fprintln(a.stdout, string(b))
				return nil
			}

			if status.Running {
				uptime := (time.Duration(status.UptimeSeconds) * time.Second).String()
				fmt.Fprintf(a.stdout, "%-13s running (uptime %s)\n", "Supervisor:", uptime)
			} else {
				fmt.Fprintf(a.stdout, "%-13s stopped\n", "Supervisor:")
			}
			if status.SafeMode {
				fmt.Fprintf(a.stdout, "%-13s ON — %s\n", "Safe mode:", status.SafeModeReason)
			} else {
				fmt.Fprintf(a.stdout, "%-13s off\n", "Safe mode:")
			}
			fmt.Fprintf(a.stdout, "%-13s %s\n", "Jobs:", jobCounts(status.Jobs))
			fmt.Fprintf(a.stdout, "%-13s %d pending\n", "Approvals:", status.PendingApprovals)
			fmt.Fprintf(a.stdout, "%-13s %d consecutive\n", "Failures:", status.ConsecutiveFailures)
			fmt.Fprintf(a.stdout, "%-13s %s\n", "Version:", status.Version)
			if status.SafeMode {
				fmt.Fprintln(a.stdout, "\nResume autonomy with: cerebric autonomy exit-safe-mode")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&jsonOut, "json", "j", false, "JSON output")
	return cmd
}

func newExitSafeModeCmd(a *app) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "exit-safe-mode",
		Short: "Clear safe mode and resume autonomous execution",
		Long: `Clear an active safe-mode stop. The exit is recorded in the audit
trail with the acknowledging user. Fails when safe mode is not active.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if user == "" {
				user = currentUser()
			}
			req := api.ExitSafeModeRequest{User: user}
			if err := a.client().post(cmd.Context(), "/api/v1/safemode/exit", req, nil); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "safe mode cleared by %s; autonomy resumed\n", user)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "who acknowledges the exit (default: current OS user)")
	return cmd
}

func jobCounts(counts map[string]int) string {
	parts := make([]string, 0, len(jobStateOrder))
	for _, state := range jobStateOrder {
		if n := counts[state]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, state))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
