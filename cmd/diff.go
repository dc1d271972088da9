package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <descriptor-a> <descriptor-b>",
	Short: "Replay two descriptors and diff their responses",
	Long: `Replay two descriptors in order and print the lines only the second response
has ("+ ") followed by the lines only the first has ("- ").

Example:
  replayer diff as-admin.json as-user.yaml`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)

	diffCmd.Flags().Bool("json", false, "print the result, including the second response, as JSON")
}

func runDiff(cmd *cobra.Command, args []string) error {
	a, err := readDescriptor(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	b, err := readDescriptor(args[1], cmd.InOrStdin())
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer orch.Close()

	result, err := orch.Diff(cmd.Context(), taskFlag(cmd), a, b)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, result)
	}
	if result.Add == "" && result.Remove == "" {
		color.New(color.FgHiBlack).Fprintln(out, "responses are identical")
		return nil
	}
	if result.Add != "" {
		color.New(color.FgGreen).Fprintln(out, result.Add)
	}
	if result.Remove != "" {
		color.New(color.FgRed).Fprintln(out, result.Remove)
	}
	if result.NewResponse != nil && result.NewResponse.Error != "" {
		fmt.Fprintf(out, "second request failed: %s\n", result.NewResponse.Error)
	}
	return nil
}
