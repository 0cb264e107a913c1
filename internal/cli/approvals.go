package cli

// approvals.go — cerebric approvals command group.
//
// Commands:
//   cerebric approvals list [--json]
//   cerebric approvals approve <id> [--by <user>] [--reason <text>]
//   cerebric approvals reject <id> [--by <user>] [--reason <text>]

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cerebric/cerebric/pkg/api"
)

func newApprovalsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Review and decide pending approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newApprovalsListCmd(a).RunE(cmd, args)
		},
	}
	cmd.AddCommand(
		newApprovalsListCmd(a),
		newApprovalsDecideCmd(a, "approve", true),
		newApprovalsDecideCmd(a, "reject", false),
	)
	return cmd
}

func newApprovalsListCmd(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approval requests awaiting a decision",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var pending []api.Approval
			if err := a.client().get(cmd.Context(), "/api/v1/approvals/pending", &pending); err != nil {
				return err
			}

			if jsonOut {
				b, _ := json.MarshalIndent(pending, "", "  ")
				fmt.Fprintln(a.stdout, string(b))
				return nil
			}

			if len(pending) == 0 {
				fmt.Fprintln(a.stdout, "No approvals pending.")
				return nil
			}
			fmt.Fprintf(a.stdout, "%-36s  %-16s  %-20s  %-8s  %5s  %s\n",
				"ID", "TASK", "ACTION", "RISK", "CONF", "EXPIRES")
			for _, p := range pending {
				fmt.Fprintf(a.stdout, "%-36s  %-16s  %-20s  %-8s  %5.2f  %s\n",
					p.ID,
					truncate(p.Task, 16),
					truncate(p.Action, 20),
					p.RiskLevel,
					p.Confidence,
					expiresIn(p.ExpiresAt),
				)
			}
			fmt.Fprintf(a.stdout, "\n%d pending. Decide with: cerebric approvals approve|reject <id>\n", len(pending))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&jsonOut, "json", "j", false, "JSON output")
	return cmd
}

func newApprovalsDecideCmd(a *app, verb string, approved bool) *cobra.Command {
	var by string
	var reason string

	short := "Approve a pending request, unblocking the action"
	if !approved {
		short = "Reject a pending request; the job moves to rejected"
	}

	cmd := &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if by == "" {
				by = currentUser()
			}
			req := api.DecideApprovalRequest{
				Approved:  approved,
				DecidedBy: by,
				Reason:    reason,
			}
			var ack struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			}
			if err := a.client().post(cmd.Context(), "/api/v1/approvals/"+id+"/decision", req, &ack); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "request %s %s (decided by %s)\n", ack.ID, ack.Status, by)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "who is deciding (default: current OS user)")
	cmd.Flags().StringVar(&reason, "reason", "", "free-form reason recorded in the audit trail")
	return cmd
}

func expiresIn(t time.Time) string {
	d := time.Until(t)
	if d <= 0 {
		return "expired"
	}
	return "in " + d.Round(time.Second).String()
}
