// Package cli implements the cerebric command line client.
//
// Every command maps onto one supervisor operation: jobs, approvals, and
// autonomy talk to a running cerebricd over its REST API; policy and
// memory operate on the local files directly, so they work while the
// daemon is down.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/cerebric/cerebric/internal/config"
	"github.com/cerebric/cerebric/internal/version"
)

type app struct {
	serverURL string
	timeout   time.Duration

	cfgOnce sync.Once
	cfg     *config.Config

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		timeout: 10 * time.Second,
		stdin:   in,
		stdout:  out,
		stderr:  errOut,
	}

	cmd := &cobra.Command{
		Use:           "cerebric",
		Short:         "Control a running cerebricd supervisor",
		Long:          "cerebric inspects and controls the cerebricd autonomous supervisor: scheduled jobs, pending approvals, autonomy state, the policy document, and the memory store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}

	cmd.PersistentFlags().StringVar(&a.serverURL, "server", "", "cerebricd base URL (default: the configured listen address)")
	cmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 10*time.Second, "request timeout for daemon calls")

	cmd.AddCommand(
		newJobsCmd(a),
		newApprovalsCmd(a),
		newAutonomyCmd(a),
		newPolicyCmd(a),
		newMemoryCmd(a),
		newVersionCmd(),
	)

	cmd.SetVersionTemplate(fmt.Sprintf("cerebric {{.Version}} (commit %s, built %s)\n", version.Commit, version.BuildDate))
	cmd.SetErrPrefix("cerebric: ")
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	return cmd
}

// loadConfig resolves the daemon configuration once per invocation. A
// load failure falls back to defaults: the CLI must stay usable even
// when the config file is broken, since fixing it may be the reason the
// operator is here.
func (a *app) loadConfig() *config.Config {
	a.cfgOnce.Do(func() {
		mgr := config.NewManager()
		if err := mgr.Load(context.Background()); err != nil {
			fmt.Fprintf(a.stderr, "warning: %v (using defaults)\n", err)
			a.cfg = config.DefaultConfig()
			return
		}
		a.cfg = mgr.Get(context.Background())
	})
	return a.cfg
}

// client builds the REST client for daemon-backed commands. --server
// wins over the configured listen address.
func (a *app) client() *apiClient {
	base := a.serverURL
	if base == "" {
		cfg := a.loadConfig()
		base = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	return newAPIClient(base, a.timeout)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show cerebric build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "cerebric %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
			return nil
		},
	}
}

// currentUser names the operator for decision and audit records.
func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return "unknown"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
