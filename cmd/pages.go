package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var pagesCmd = &cobra.Command{
	Use:   "pages",
	Short: "List pages stored by exploration",
	Long: `List the pages recorded for a task by descriptors sent with needExplore.

Example:
  replayer pages --task t1 --limit 20
  replayer pages --json`,
	Args: cobra.NoArgs,
	RunE: runPages,
}

func init() {
	rootCmd.AddCommand(pagesCmd)

	pagesCmd.Flags().Int("limit", 0, "maximum pages to list (default 100)")
	pagesCmd.Flags().Bool("json", false, "print pages as JSON")
}

func runPages(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	orch, err := newOrchestrator(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer orch.Close()

	pages, err := orch.Pages(cmd.Context(), taskFlag(cmd), limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, pages)
	}
	if len(pages) == 0 {
		color.New(color.FgHiBlack).Fprintln(out, "no pages recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tMETHOD\tURL\tSEEN")
	for _, p := range pages {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.Status, p.Method, p.URL, p.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
