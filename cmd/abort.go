package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var abortCmd = &cobra.Command{
	Use:   "abort [set|clear|status]",
	Short: "Set, clear or show the shared abort flag",
	Long: `While the abort flag is set, running probes and exploration stop starting new
requests. The flag is shared through Redis (--redis-addr), so setting it here
stops work in a running "replayer serve" or "replayer mcp". Without Redis the
flag only lives in this process.

Example:
  replayer abort set --redis-addr localhost:6379
  replayer abort clear --redis-addr localhost:6379`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"set", "clear", "status"},
	RunE:      runAbort,
}

func init() {
	rootCmd.AddCommand(abortCmd)
}

func runAbort(cmd *cobra.Command, args []string) error {
	action := "status"
	if len(args) == 1 {
		action = args[0]
	}

	if cfg.Redis.Addr == "" && action != "status" {
		log.Warnw("No Redis address configured, the abort flag only affects this process")
	}

	// The abort flag does not need the page store.
	cfg.Database.Driver = "none"
	orch, err := newOrchestrator(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer orch.Close()

	switch action {
	case "set":
		err = orch.Abort(cmd.Context())
	case "clear":
		err = orch.Resume(cmd.Context())
	case "status":
	default:
		return fmt.Errorf("unknown action %q, expected set, clear or status", action)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if orch.Aborted(cmd.Context()) {
		color.New(color.FgYellow, color.Bold).Fprintln(out, "aborted")
	} else {
		color.New(color.FgGreen).Fprintln(out, "running")
	}
	return nil
}
