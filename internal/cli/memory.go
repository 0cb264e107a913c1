package cli

// memory.go — cerebric memory command group.
//
// Operates directly on the memory store under <data-dir>/memory, the
// same tree cerebricd appends to. Appends are single-line atomic, so
// reading while the daemon runs is safe; purge is guarded by a prompt.
//
// Commands:
//   cerebric memory list [--partition <p>] [--file <f>] [--limit <n>] [--json]
//   cerebric memory export <profile> [--out <path>]
//   cerebric memory purge <profile> [--yes]

import (
	"bufio"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/memory"
)

func newMemoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect, export, and purge the agent memory store",
	}
	cmd.AddCommand(
		newMemoryListCmd(a),
		newMemoryExportCmd(a),
		newMemoryPurgeCmd(a),
	)
	return cmd
}

// memStore opens the store the daemon writes, rooted under the
// configured data directory.
func (a *app) memStore() *memory.Store {
	cfg := a.loadConfig()
	return memory.NewStore(filepath.Join(cfg.Dirs.Data, "memory"), cfg.Memory.DefaultProfile, zap.NewNop())
}

func newMemoryListCmd(a *app) *cobra.Command {
	var partition string
	var file string
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List partitions, a partition's files, or a file's entries",
		Example: `  cerebric memory list
  cerebric memory list --partition runtime
  cerebric memory list --partition profiles/staging --file events.jsonl --limit 10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := a.memStore()

			switch {
			case partition == "" && file != "":
				return fmt.Errorf("--file requires --partition")

			case partition == "":
				parts, err := store.Partitions()
				if err != nil {
					return err
				}
				if jsonOut {
					b, _ := json.MarshalIndent(parts, "", "  ")
					fmt.Fprintln(a.stdout, string(b))
					return nil
				}
				fmt.Fprintf(a.stdout, "%-32s  %s\n", "PARTITION", "FILES")
				for _, p := range parts {
					files, err := store.Files(p)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "%-32s  %d\n", p, len(files))
				}
				return nil

			case file == "":
				files, err := store.Files(partition)
				if err != nil {
					return err
				}
				if jsonOut {
					b, _ := json.MarshalIndent(files, "", "  ")
					fmt.Fprintln(a.stdout, string(b))
					return nil
				}
				if len(files) == 0 {
					fmt.Fprintf(a.stdout, "No files in %s.\n", partition)
					return nil
				}
				for _, f := range files {
					fmt.Fprintln(a.stdout, f)
				}
				return nil

			default:
				entries, err := store.ListEntries(partition, file)
				if err != nil {
					return err
				}
				if limit > 0 && len(entries) > limit {
					entries = entries[len(entries)-limit:]
				}
				if jsonOut {
					b, _ := json.MarshalIndent(entries, "", "  ")
					fmt.Fprintln(a.stdout, string(b))
					return nil
				}
				for _, e := range entries {
					line, err := json.Marshal(e)
					if err != nil {
						continue
					}
					fmt.Fprintln(a.stdout, string(line))
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&partition, "partition", "", "partition (core|runtime|shared|profiles/<name>)")
	cmd.Flags().StringVar(&file, "file", "", "JSONL file within the partition")
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries to show, newest last (0 = all)")
	cmd.Flags().BoolVarP(&jsonOut, "json", "j", false, "JSON output")
	return cmd
}

func newMemoryExportCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export <profile>",
		Short: "Export a profile's memory as one JSONL file",
		Long: `Concatenate every JSONL file of a profile (or of core, runtime, or
shared) into a single export file, sorted by file name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := args[0]
			dest := out
			if dest == "" {
				dest = strings.ReplaceAll(profile, "/", "-") + ".jsonl"
			}
			if err := a.memStore().Export(profile, dest); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "exported %s to %s\n", profile, dest)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "destination path (default: <profile>.jsonl)")
	return cmd
}

func newMemoryPurgeCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge <profile>",
		Short: "Delete a profile's memory files",
		Long: `Remove a profile's memory directory. core and the default
administrative profile are protected and refuse to purge.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := args[0]
			if !yes && !a.confirm(fmt.Sprintf("purge %s? This permanently deletes its memory files. [y/N]: ", profile)) {
				fmt.Fprintln(a.stdout, "aborted")
				return nil
			}
			if err := a.memStore().Purge(profile); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "purged %s\n", profile)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

// confirm prompts on stdout and reads one line from stdin. Anything but
// y/yes declines, including EOF.
func (a *app) confirm(prompt string) bool {
	fmt.Fprint(a.stdout, prompt)
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
