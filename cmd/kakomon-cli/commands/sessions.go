package commands

import (
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"kakomon-harvester/lib/crawljournal"
	"kakomon-harvester/lib/serviceutil"
	"kakomon-harvester/lib/sqliteutil"
)

var sessionsDb *string

func init() {
	sessionsDb = sessionsCmd.Flags().String("db", "journal.db", "The crawl journal database.")
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions [--db <path/to/journal.db>]",
	Short: "Prints the outcome of every recorded session walk.",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := sqliteutil.OpenDB(crawljournal.Schema, *sessionsDb)
		if err != nil {
			serviceutil.Fatal("failed to open journal db", err)
		}
		defer db.Close()

		journal := crawljournal.NewJournal(db)
		summaries, err := journal.SessionSummaries(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to read session summaries", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Session", "Year", "Sid", "Started", "Advanced", "Abandoned", "Records"})
		for _, s := range summaries {
			t.AppendRow(table.Row{
				s.Label,
				s.PartitionKey,
				s.Sid,
				s.StartedAt.Format(time.ANSIC),
				s.Advanced,
				s.Abandoned,
				s.RecordsAdded,
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
