package commands

import (
	"errors"
	"io/fs"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"kakomon-harvester/lib/configutil"
	"kakomon-harvester/lib/corpus"
	"kakomon-harvester/lib/crawljournal"
	"kakomon-harvester/lib/fetch"
	"kakomon-harvester/lib/restyutil"
	"kakomon-harvester/lib/scrapers/apsiken"
	"kakomon-harvester/lib/serviceutil"
	"kakomon-harvester/lib/sqliteutil"
	"kakomon-harvester/lib/timezone"
)

type Config struct {
	BaseUrl     string `json:"baseUrl"`
	CacheDir    string `json:"cacheDir"`
	Output      string `json:"output"`
	JournalDb   string `json:"journalDb"`
	SnapshotDir string `json:"snapshotDir"`
	ThrottleMs  int    `json:"throttleMs"`
	MaxRetries  int    `json:"maxRetries"`
	MaxSteps    int    `json:"maxSteps"`
	PreferNew   bool   `json:"preferNew"`
	// Resume seeds the store from the output file when it already
	// exists, instead of overwriting it with this run alone.
	Resume bool `json:"resume"`
	// Times restricts the walk to the listed session codes. Empty
	// walks every session the site offers.
	Times []string `json:"times"`
}

var scrapeConfig *string

func init() {
	scrapeConfig = scrapeCmd.Flags().String("config", "scraper.json5", "The scraper config file.")
	rootCmd.AddCommand(scrapeCmd)
}

func createFetcher(cfg Config) *fetch.Client {
	opts := fetch.Options{
		CacheDir:   cfg.CacheDir,
		Throttle:   time.Duration(cfg.ThrottleMs) * time.Millisecond,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.SnapshotDir != "" {
		opts.Snapshots = restyutil.NewFilesystemOutput(cfg.SnapshotDir)
	}
	client, err := fetch.NewClient(opts)
	if err != nil {
		serviceutil.Fatal("failed to initialize fetch client", err)
	}
	return client
}

// resumeCorpus seeds the store from the output file when resuming is
// on. A missing file is fine, the run just starts fresh.
func resumeCorpus(cfg Config, store *corpus.Store) error {
	if !cfg.Resume {
		return nil
	}
	existing, err := corpus.Load(cfg.Output)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	store.LoadExisting(existing)
	slog.Info("resuming corpus", "path", cfg.Output, "questions", store.Len())
	return nil
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--config <path/to/scraper.json5>]",
	Short: "Walks every exam session and writes the harvested corpus.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[Config](*scrapeConfig)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if cfg.Output == "" {
			cfg.Output = "corpus.json"
		}

		ctx := cmd.Context()
		client := createFetcher(cfg)
		store := corpus.NewStore(corpus.StoreOptions{PreferNew: cfg.PreferNew})
		if err := resumeCorpus(cfg, store); err != nil {
			serviceutil.Fatal("failed to load existing corpus", err)
		}

		opts := apsiken.WalkerOptions{MaxSteps: cfg.MaxSteps}
		if cfg.JournalDb != "" {
			db, err := sqliteutil.OpenDB(crawljournal.Schema, cfg.JournalDb)
			if err != nil {
				serviceutil.Fatal("failed to open journal db", err)
			}
			defer db.Close()
			journal := crawljournal.NewJournal(db)
			opts.Journal = &journal
		}

		sessions, err := apsiken.DiscoverSessions(ctx, client, cfg.BaseUrl)
		if err != nil {
			serviceutil.Fatal("failed to discover sessions", err)
		}

		walker := apsiken.NewWalker(client, store, opts)
		var walked []string
		t1 := time.Now()
		for _, session := range sessions {
			if len(cfg.Times) > 0 && !slices.Contains(cfg.Times, session.TimesCode) {
				continue
			}
			result, err := walker.Walk(ctx, session)
			if err != nil {
				slog.Error("session walk failed", "label", session.Label, "err", err)
				continue
			}
			walked = append(walked, session.Label)
			slog.Info("session harvested",
				"label", session.Label,
				"advanced", result.Advanced,
				"abandoned", len(result.Abandoned))
		}
		slog.Info("scraping time", "seconds", time.Since(t1).Seconds())

		out := corpus.Corpus{
			Version:        1,
			Questions:      store.All(),
			GeneratedAt:    timezone.Now().Format(time.RFC3339),
			SourceSessions: walked,
		}
		if err := corpus.Write(cfg.Output, out); err != nil {
			serviceutil.Fatal("failed to write corpus", err)
		}
		slog.Info("corpus written", "path", cfg.Output, "questions", len(out.Questions))
		printSummary(corpus.Summarize(out))
	},
}
