package cli

// policy.go — cerebric policy command group.
//
// Both commands read the policy document from disk, so they work
// against the same file the daemon enforces without needing the daemon
// up. `policy test` answers "would this invocation be allowed right
// now" and always exits 0; the verdict is the output, not the exit
// code.
//
// Commands:
//   cerebric policy show [--file <path>] [--json]
//   cerebric policy test --tool <t> [--user <u>] [--host <h>] [--at <when>] [--input k=v]...

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cerebric/cerebric/internal/policy"
)

func newPolicyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Show and test the tool policy document",
	}
	cmd.AddCommand(
		newPolicyShowCmd(a),
		newPolicyTestCmd(a),
	)
	return cmd
}

func newPolicyShowCmd(a *app) *cobra.Command {
	var file string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective policy document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, path, builtin, err := a.loadPolicyDoc(file)
			if err != nil {
				return err
			}

			if jsonOut {
				b, _ := json.MarshalIndent(doc, "", "  ")
				fmt.Fprintln(a.stdout, string(b))
				return nil
			}

			if builtin {
				fmt.Fprintf(a.stdout, "# built-in defaults (%s not found)\n", path)
			} else {
				fmt.Fprintf(a.stdout, "# %s\n", path)
			}
			b, err := yaml.Marshal(doc)
			if err != nil {
				return fmt.Errorf("render policy: %w", err)
			}
			fmt.Fprint(a.stdout, string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "policy file (default: the configured policy path)")
	cmd.Flags().BoolVarP(&jsonOut, "json", "j", false, "JSON output")
	return cmd
}

func newPolicyTestCmd(a *app) *cobra.Command {
	var (
		file    string
		tool    string
		user    string
		host    string
		at      string
		inputs  []string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Evaluate a hypothetical invocation against the policy",
		Example: `  cerebric policy test --tool write_config --input path=/etc/app.conf
  cerebric policy test --tool restart_service --user alice --at 23:30
  cerebric policy test --tool run_command --host web-1 --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, _, _, err := a.loadPolicyDoc(file)
			if err != nil {
				return err
			}

			pctx := policy.Context{User: user, Host: host}
			if at != "" {
				now, err := parseTestTime(at)
				if err != nil {
					return err
				}
				pctx.Now = now
			}
			pctx.Inputs, err = parseInputs(inputs)
			if err != nil {
				return err
			}

			decision := policy.NewEngine(doc, nil).Decide(tool, true, pctx)

			if jsonOut {
				b, _ := json.MarshalIndent(decision, "", "  ")
				fmt.Fprintln(a.stdout, string(b))
				return nil
			}

			if !decision.Allow {
				fmt.Fprintf(a.stdout, "DENY  %s — %s\n", tool, decision.Reason)
				return nil
			}
			fmt.Fprintf(a.stdout, "ALLOW %s — %s\n", tool, decision.Reason)
			if decision.SimulationRequired {
				fmt.Fprintln(a.stdout, "  simulation required before apply")
			}
			if decision.RollbackRequired {
				fmt.Fprintln(a.stdout, "  rollback strategy required")
			}
			if len(decision.ApprovalsNeeded) > 0 {
				fmt.Fprintf(a.stdout, "  approvals: %s\n", strings.Join(decision.ApprovalsNeeded, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "policy file (default: the configured policy path)")
	cmd.Flags().StringVar(&tool, "tool", "", "tool name to evaluate (required)")
	cmd.Flags().StringVar(&user, "user", "", "invoking user (default: current OS user)")
	cmd.Flags().StringVar(&host, "host", "", "invoking host (default: this host)")
	cmd.Flags().StringVar(&at, "at", "", `evaluation time: RFC 3339 or "HH:MM" today (default: now)`)
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "invocation input as key=value (repeatable)")
	cmd.Flags().BoolVarP(&jsonOut, "json", "j", false, "JSON output")
	_ = cmd.MarkFlagRequired("tool")
	return cmd
}

// loadPolicyDoc reads the policy file, falling back to the built-in
// defaults when no file exists yet. builtin reports which one the
// caller got.
func (a *app) loadPolicyDoc(file string) (doc *policy.Document, path string, builtin bool, err error) {
	path = file
	if path == "" {
		path = a.loadConfig().Policy.Path
	}
	doc, err = policy.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return policy.DefaultDocument(), path, true, nil
		}
		return nil, path, false, err
	}
	return doc, path, false, nil
}

// parseTestTime accepts an absolute RFC 3339 timestamp or a bare
// "HH:MM", interpreted as that local time today.
func parseTestTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if hm, err := time.Parse("15:04", s); err == nil {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), hm.Hour(), hm.Minute(), 0, 0, time.Local), nil
	}
	return time.Time{}, fmt.Errorf("invalid --at value %q: want RFC 3339 or HH:MM", s)
}
