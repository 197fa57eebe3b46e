package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"kakomon-harvester/lib/corpus"
	"kakomon-harvester/lib/serviceutil"
)

var mergeOut *string
var mergePreferNew *bool

func init() {
	mergeOut = mergeCmd.Flags().String("out", "", "Where to write the merged corpus. Defaults to the existing path.")
	mergePreferNew = mergeCmd.Flags().Bool("prefer-new", false, "Let incoming records replace existing ones on id collision.")
	rootCmd.AddCommand(mergeCmd)
}

var mergeCmd = &cobra.Command{
	Use:   "merge <existing.json> <incoming.json> [--out <merged.json>] [--prefer-new]",
	Short: "Merges a freshly harvested corpus into an existing one.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		out := *mergeOut
		if out == "" {
			out = args[0]
		}
		result, err := corpus.MergeFiles(args[0], args[1], out, *mergePreferNew)
		if err != nil {
			serviceutil.Fatal("failed to merge", err)
		}
		for _, id := range result.Dropped {
			slog.Warn("dropped invalid existing record", "id", id)
		}
		slog.Info("merged",
			"out", out,
			"questions", len(result.Merged.Questions),
			"added", result.Added,
			"replaced", result.Replaced,
			"dropped", len(result.Dropped))
		printSummary(corpus.Summarize(result.Merged))
	},
}
