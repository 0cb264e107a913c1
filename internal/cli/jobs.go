package cli

// jobs.go — cerebric jobs command group.
//
// Commands:
//   cerebric jobs list [--state pending] [--json]
//   cerebric jobs add --task <name> (--cron <expr> | --at <when>) [flags]
//   cerebric jobs cancel <id>
//   cerebric jobs status <id> [--json]

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cerebric/cerebric/pkg/api"
)

func newJobsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newJobsListCmd(a).RunE(cmd, args)
		},
	}
	cmd.AddCommand(
		newJobsListCmd(a),
		newJobsAddCmd(a),
		newJobsCancelCmd(a),
		newJobsStatusCmd(a),
	)
	return cmd
}

func newJobsListCmd(a *app) *cobra.Command {
	var state string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by state",
		Example: `  cerebric jobs list
  cerebric jobs list --state failed
  cerebric jobs list --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/api/v1/jobs"
			if state != "" {
				path += "?state=" + state
			}
			var jobs []api.Job
			if err := a.client().get(cmd.Context(), path, &jobs); err != nil {
				return err
			}

			if jsonOut {
				b, _ := json.MarshalIndent(jobs, "", "  ")
				fmt.Fprintln(a.stdout, string(b))
				return nil
			}

			if len(jobs) == 0 {
				fmt.Fprintln(a.stdout, "No jobs scheduled.")
				return nil
			}
			fmt.Fprintf(a.stdout, "%-24s  %-10s  %4s  %-16s  %-24s  %s\n",
				"ID", "STATE", "PRIO", "TASK", "TRIGGER", "RETRIES")
			for _, j := range jobs {
				fmt.Fprintf(a.stdout, "%-24s  %-10s  %4d  %-16s  %-24s  %d/%d\n",
					truncate(j.ID, 24),
					j.State,
					j.Priority,
					truncate(j.Task, 16),
					truncate(jobTrigger(j), 24),
					j.RetryCount, j.MaxRetries,
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state (pending|running|completed|failed|cancelled|skipped|rejected)")
	cmd.Flags().BoolVarP(&jsonOut, "json", "j", false, "JSON output")
	return cmd
}

func newJobsAddCmd(a *app) *cobra.Command {
	var (
		id          string
		task        string
		description string
		cronExpr    string
		at          string
		priority    int
		inputs      []string
		maxRetries  int
		timeoutSecs int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a new job",
		Long: `Schedule a job on the supervisor. Exactly one trigger is required:
--cron for a recurring schedule, or --at for a one-time run.

--at accepts an RFC 3339 timestamp or a duration offset from now ("30m").`,
		Example: `  cerebric jobs add --task disk_report --cron "0 2 * * *"
  cerebric jobs add --task package_update --at 2026-09-01T02:00:00Z --priority 3
  cerebric jobs add --task restart_service --at 15m --input name=nginx`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := api.CreateJobRequest{
				ID:          id,
				Task:        task,
				Description: description,
				CronExpr:    cronExpr,
				Priority:    priority,
				MaxRetries:  maxRetries,
				TimeoutSecs: timeoutSecs,
			}
			if at != "" {
				runAt, err := parseRunAt(at)
				if err != nil {
					return err
				}
				req.RunAt = &runAt
			}
			parsed, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			req.Inputs = parsed

			var created api.Job
			if err := a.client().post(cmd.Context(), "/api/v1/jobs", req, &created); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "job %s scheduled (%s)\n", created.ID, jobTrigger(created))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "job id (generated when empty; re-posting an id replaces the job)")
	cmd.Flags().StringVar(&task, "task", "", "task to run (required)")
	cmd.Flags().StringVar(&description, "description", "", "human-readable description")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression for a recurring job")
	cmd.Flags().StringVar(&at, "at", "", "one-time run: RFC 3339 timestamp or duration offset")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority 1-10, 1 is most urgent (default 5)")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "task input as key=value (repeatable)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retry attempts after a failure")
	cmd.Flags().IntVar(&timeoutSecs, "timeout-secs", 0, "per-run timeout in seconds")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func newJobsCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := a.client().del(cmd.Context(), "/api/v1/jobs/"+id, nil); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "job %s cancelled\n", id)
			return nil
		},
	}
}

func newJobsStatusCmd(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job api.Job
			if err := a.client().get(cmd.Context(), "/api/v1/jobs/"+args[0], &job); err != nil {
				return err
			}

			if jsonOut {
				b, _ := json.MarshalIndent(job, "", "  ")
				fmt.Fprintln(a.stdout, string(b))
				return nil
			}

			fmt.Fprintf(a.stdout, "%-13s %s\n", "ID:", job.ID)
			fmt.Fprintf(a.stdout, "%-13s %s\n", "Task:", job.Task)
			if job.Description != "" {
				fmt.Fprintf(a.stdout, "%-13s %s\n", "Description:", job.Description)
			}
			fmt.Fprintf(a.stdout, "%-13s %s\n", "State:", job.State)
			fmt.Fprintf(a.stdout, "%-13s %d\n", "Priority:", job.Priority)
			fmt.Fprintf(a.stdout, "%-13s %s\n", "Trigger:", jobTrigger(job))
			fmt.Fprintf(a.stdout, "%-13s %d/%d\n", "Retries:", job.RetryCount, job.MaxRetries)
			if job.TimeoutSecs > 0 {
				fmt.Fprintf(a.stdout, "%-13s %ds\n", "Timeout:", job.TimeoutSecs)
			}
			if len(job.Inputs) > 0 {
				b, _ := json.Marshal(job.Inputs)
				fmt.Fprintf(a.stdout, "%-13s %s\n", "Inputs:", string(b))
			}
			fmt.Fprintf(a.stdout, "%-13s %s\n", "Created:", job.CreatedAt.UTC().Format(time.RFC3339))
			if job.StartedAt != nil {
				fmt.Fprintf(a.stdout, "%-13s %s\n", "Started:", job.StartedAt.UTC().Format(time.RFC3339))
			}
			if job.CompletedAt != nil {
				fmt.Fprintf(a.stdout, "%-13s %s\n", "Completed:", job.CompletedAt.UTC().Format(time.RFC3339))
			}
			if job.LastError != "" {
				fmt.Fprintf(a.stdout, "%-13s %s\n", "Last error:", job.LastError)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&jsonOut, "json", "j", false, "JSON output")
	return cmd
}

func jobTrigger(j api.Job) string {
	switch {
	case j.CronExpr != "":
		return "cron " + j.CronExpr
	case j.RunAt != nil:
		return "at " + j.RunAt.UTC().Format(time.RFC3339)
	default:
		return "-"
	}
}

// parseRunAt accepts an absolute RFC 3339 timestamp or a relative
// duration ("90s", "15m", "2h") from now.
func parseRunAt(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("--at duration must not be negative: %q", s)
		}
		return time.Now().Add(d), nil
	}
	return time.Time{}, fmt.Errorf("invalid --at value %q: want RFC 3339 timestamp or duration", s)
}

func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --input %q: want key=value", p)
		}
		inputs[k] = v
	}
	return inputs, nil
}
