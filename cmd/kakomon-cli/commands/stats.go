package commands

import (
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"kakomon-harvester/lib/corpus"
	"kakomon-harvester/lib/serviceutil"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

func printSummary(s corpus.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Year", "Questions"})

	years := make([]int, 0, len(s.PerPartition))
	for year := range s.PerPartition {
		years = append(years, year)
	}
	sort.Ints(years)
	for _, year := range years {
		t.AppendRow(table.Row{year, s.PerPartition[year]})
	}
	t.AppendFooter(table.Row{"Total", s.Total})
	t.SetStyle(table.StyleRounded)
	t.Render()

	t = table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Category", "Questions"})

	categories := make([]string, 0, len(s.PerCategory))
	for category := range s.PerCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		t.AppendRow(table.Row{category, s.PerCategory[category]})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

var statsCmd = &cobra.Command{
	Use:   "stats <path/to/corpus.json>",
	Short: "Prints the per-year and per-category breakdown of a corpus file.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := corpus.Load(args[0])
		if err != nil {
			serviceutil.Fatal("failed to load corpus", err)
		}
		printSummary(corpus.Summarize(c))
	},
}
