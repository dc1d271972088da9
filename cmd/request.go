package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
)

var requestCmd = &cobra.Command{
	Use:   "request <descriptor-file|->",
	Short: "Replay one request descriptor",
	Long: `Replay a request descriptor, following redirects by hand, and print the
final response. The descriptor may be JSON, YAML or TOML; "-" reads JSON from
stdin.

Example:
  replayer request login.yaml
  cat req.json | replayer request - --json`,
	Args: cobra.ExactArgs(1),
	RunE: runRequest,
}

func init() {
	rootCmd.AddCommand(requestCmd)

	requestCmd.Flags().Bool("json", false, "print the full result as JSON")
	requestCmd.Flags().Bool("headers", false, "print response headers")
}

func runRequest(cmd *cobra.Command, args []string) error {
	descriptor, err := readDescriptor(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer orch.Close()

	result, err := orch.Request(cmd.Context(), taskFlag(cmd), descriptor)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, result)
	}
	showHeaders, _ := cmd.Flags().GetBool("headers")
	printResult(out, result, showHeaders)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func printResult(w io.Writer, result *types.Result, showHeaders bool) {
	// The last hop is the final response printed below.
	for i, hop := range result.History {
		if i == len(result.History)-1 || hop.Response == nil {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", color.New(color.FgYellow).Sprintf("%d", hop.Response.Status), hop.Response.URL)
	}

	if result.Error != "" {
		color.New(color.FgRed).Fprintf(w, "error: %s\n", result.Error)
		return
	}

	fmt.Fprintf(w, "%s %s\n", statusColor(result.Status).Sprintf("%d", result.Status), result.URL)
	if showHeaders && result.Header != nil {
		for _, name := range result.Header.Keys() {
			for _, value := range result.Header.Values(name) {
				fmt.Fprintf(w, "%s: %s\n", color.New(color.FgCyan).Sprint(name), value)
			}
		}
	}
	if result.SavePath != "" {
		color.New(color.FgHiBlack).Fprintf(w, "saved to %s\n", result.SavePath)
	}
	if result.Content != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, result.Content)
	}
}

func statusColor(status int) *color.Color {
	switch {
	case status >= 500:
		return color.New(color.FgRed, color.Bold)
	case status >= 400:
		return color.New(color.FgYellow, color.Bold)
	case status >= 300:
		return color.New(color.FgCyan, color.Bold)
	default:
		return color.New(color.FgGreen, color.Bold)
	}
}
