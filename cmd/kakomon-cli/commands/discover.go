package commands

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"kakomon-harvester/lib/configutil"
	"kakomon-harvester/lib/scrapers/apsiken"
	"kakomon-harvester/lib/serviceutil"
)

var discoverConfig *string

func init() {
	discoverConfig = discoverCmd.Flags().String("config", "scraper.json5", "The scraper config file.")
	rootCmd.AddCommand(discoverCmd)
}

var discoverCmd = &cobra.Command{
	Use:   "discover [--config <path/to/scraper.json5>]",
	Short: "Lists the exam sessions the site offers without walking them.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[Config](*discoverConfig)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		client := createFetcher(cfg)
		sessions, err := apsiken.DiscoverSessions(cmd.Context(), client, cfg.BaseUrl)
		if err != nil {
			serviceutil.Fatal("failed to discover sessions", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Session", "Year", "Code"})
		for _, s := range sessions {
			t.AppendRow(table.Row{s.Label, s.Year, s.TimesCode})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
