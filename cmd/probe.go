package cmd

import (
	"fmt"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/replayer/pkg/probe"
)

var probeCmd = &cobra.Command{
	Use:   "probe <template-file|->",
	Short: "Substitute candidate values and group them by response",
	Long: `Replay a descriptor template once per candidate value and print one line per
group of candidates whose normalized responses match.

The template marks the substitution point with {FUZZ} (normal, jwt) or {LFI}
(lfi). Values are a range ("1-50") or a comma separated list.

Example:
  replayer probe profile.json --value 1-100
  replayer probe api.json --type jwt --token eyJ... --param sub --value 1,2,admin
  replayer probe download.json --type lfi`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().String("value", "", "candidate values: a range like 1-50 or a comma separated list")
	probeCmd.Flags().String("type", string(probe.KindNormal), "probe type (normal, jwt, lfi)")
	probeCmd.Flags().String("token", "", "JWT to edit (jwt only)")
	probeCmd.Flags().String("param", "", "JWT claim to rewrite (jwt only)")
	probeCmd.Flags().BoolP("verbose", "v", false, "print each candidate as it completes")
}

func runProbe(cmd *cobra.Command, args []string) error {
	tmpl, err := readDescriptor(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	value, _ := cmd.Flags().GetString("value")
	kind, _ := cmd.Flags().GetString("type")
	token, _ := cmd.Flags().GetString("token")
	param, _ := cmd.Flags().GetString("param")
	verbose, _ := cmd.Flags().GetBool("verbose")

	orch, err := newOrchestrator(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer orch.Close()

	out := cmd.OutOrStdout()
	var done, failed atomic.Int64
	onResult := func(o probe.Outcome) {
		done.Add(1)
		if o.Error != "" {
			failed.Add(1)
		}
		if !verbose {
			return
		}
		if o.Error != "" {
			color.New(color.FgRed).Fprintf(out, "  %s: %s\n", o.Value, o.Error)
			return
		}
		fmt.Fprintf(out, "  %s: %s %d bytes\n", o.Value, statusColor(o.Status).Sprintf("%d", o.Status), o.Length)
	}

	lines, err := orch.Probe(cmd.Context(), taskFlag(cmd), probe.Request{
		Request: string(tmpl),
		Value:   value,
		Type:    probe.Kind(kind),
		Token:   token,
		Param:   param,
	}, onResult)
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintln(out)
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}

	summary := color.New(color.FgHiBlack)
	summary.Fprintf(out, "\n%d candidates, %d classes", done.Load(), len(lines))
	if n := failed.Load(); n > 0 {
		summary.Fprintf(out, ", %d failed", n)
	}
	if orch.Aborted(cmd.Context()) {
		color.New(color.FgYellow).Fprint(out, " (aborted)")
	}
	fmt.Fprintln(out)
	return nil
}
