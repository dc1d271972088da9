package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/logger"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the replay tools over MCP (stdio)",
	Long: `Run a Model Context Protocol server on stdin/stdout exposing the request,
probe, diff, abort and pages tools.

Logs go to stderr so they never mix with the protocol stream.

Example client entry:
  {"command": "replayer", "args": ["mcp", "--db-driver", "none"]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, err := newOrchestrator(ctx, nil)
	if err != nil {
		return err
	}
	defer orch.Close()

	err = mcpserver.New(orch, logger.Version, log).RunStdio(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
