package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"docground/internal/catalog"
	"docground/internal/citation"
	"docground/internal/config"
	"docground/internal/crawler"
	"docground/internal/ddr"
	"docground/internal/extractor"
	"docground/internal/gate"
	"docground/internal/git"
	"docground/internal/logging"
	"docground/internal/storage"
	"docground/internal/validator"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "docground",
		Short: "Verify that generated documentation only cites symbols that exist",
	}
	configPath   string
	dbPath       string
	changedSince string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "docground.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path to the SQLite database (overrides storage.db)")
	rootCmd.PersistentFlags().StringVar(&changedSince, "changed-since", "", "Only crawl corpus files changed since this git ref")

	verifyCmd.Flags().Bool("annotate", false, "Print the document with citations and unverified markers")
	verifyCmd.Flags().Bool("drop", false, "Drop code formatting of unverified references instead of flagging them")
	verifyCmd.Flags().Bool("fuzzy", false, "Enable fuzzy matching after an exact miss")

	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(roundsCmd)
}

// app bundles the components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *storage.SQLiteStore
	session *ddr.Session
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

func initApp(fuzzy bool) (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.Storage.DB = dbPath
	}
	if fuzzy {
		cfg.Retrieval.Fuzzy = true
	}

	a := &app{
		cfg:    cfg,
		logger: logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}),
	}

	var storeOpts []catalog.StoreOption
	storeOpts = append(storeOpts, catalog.WithLogger(a.logger))
	var sessionOpts []ddr.Option
	if cfg.Storage.DB != "" {
		a.store, err = storage.NewSQLiteStore(cfg.Storage.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		storeOpts = append(storeOpts, catalog.WithSymbolCache(a.store))
		sessionOpts = append(sessionOpts, ddr.WithRoundRecorder(a.store))
	}

	g, err := gate.New(cfg.Gate.Threshold, gate.WithLogger(a.logger))
	if err != nil {
		a.Close()
		return nil, err
	}

	vopts := []validator.Option{validator.WithWeights(validator.Weights(cfg.SourceWeights()))}
	if cfg.Retrieval.Fuzzy {
		vopts = append(vopts, validator.WithFuzzy(cfg.Retrieval.FuzzyMinKeyLength))
	}

	sessionOpts = append(sessionOpts,
		ddr.WithLogger(a.logger),
		ddr.WithGate(g),
		ddr.WithValidator(validator.New(vopts...)),
		ddr.WithCacheSize(cfg.Retrieval.CacheSize),
		ddr.WithConcurrency(cfg.Retrieval.Concurrency),
		ddr.WithMaxResults(cfg.Retrieval.MaxResults),
	)
	a.session = ddr.New(catalog.NewStore(extractor.DefaultRegistry(), storeOpts...), sessionOpts...)
	return a, nil
}

// descriptors assembles configured catalogs, explicit paths and the corpus crawl.
func (a *app) descriptors(ctx context.Context, paths []string) ([]catalog.Descriptor, error) {
	var out []catalog.Descriptor
	for _, d := range a.cfg.Catalogs {
		if d.Source == "" {
			src, err := extractor.SourceFor(d.Path)
			if err != nil {
				return nil, err
			}
			d.Source = src
		}
		out = append(out, d)
	}
	for _, p := range paths {
		src, err := extractor.SourceFor(p)
		if err != nil {
			return nil, err
		}
		out = append(out, catalog.Descriptor{Source: src, Path: p})
	}

	root := a.cfg.Corpus.Root
	if root == "" {
		return out, nil
	}
	var opts []crawler.Option
	if changedSince != "" {
		changes, err := git.GetChangedFiles(ctx, root, changedSince)
		if err != nil {
			return nil, err
		}
		fmt.Printf("🔄 %d files changed since %s\n", len(changes), changedSince)
		opts = append(opts, crawler.WithOnly(git.Paths(changes)...))
	}
	fmt.Printf("📂 Scanning corpus: %s\n", root)
	found, err := crawler.NewCrawler(a.cfg.CorpusSources(), opts...).Scan(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan corpus: %w", err)
	}
	return append(out, found...), nil
}

func (a *app) loadCatalogs(ctx context.Context, paths []string) []catalog.LoadResult {
	ds, err := a.descriptors(ctx, paths)
	if err != nil {
		log.Fatalf("Failed to collect catalogs: %v", err)
	}
	if len(ds) == 0 {
		log.Fatalf("No catalogs configured. Pass catalog paths or set catalogs/corpus.root in %s", configPath)
	}

	results, err := a.session.LoadCatalogs(ctx, ds)
	if err != nil {
		// Failed descriptors leave earlier catalogs in place.
		fmt.Printf("⚠️  Some catalogs failed to load:\n%v\n", err)
	}
	return results
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var catalogCmd = &cobra.Command{
	Use:   "catalog [paths...]",
	Short: "Load catalogs and report what they contain",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := initApp(false)
		if err != nil {
			log.Fatalf("Failed to initialize: %v", err)
		}
		defer a.Close()

		results := a.loadCatalogs(ctx, args)
		cached := 0
		for _, r := range results {
			if r.Cached {
				cached++
			}
		}

		snap := a.session.Store().Snapshot()
		symbols, keys := snap.Size()
		fmt.Printf("📚 Loaded %d catalogs (%d from cache): %d symbols, %d keys\n", len(results), cached, symbols, keys)
		for _, src := range snap.Sources() {
			c, _ := snap.Catalog(src)
			fmt.Printf("  - %-26s %6d symbols %6d keys (weight %.2f)\n", src, c.Len(), c.Keys(),
				validator.Weights(a.cfg.SourceWeights()).Weight(src))
		}

		if a.store != nil {
			sets, err := a.store.CachedSets(ctx)
			if err != nil {
				log.Fatalf("Failed to list cached symbol sets: %v", err)
			}
			fmt.Printf("💾 %d symbol sets cached in %s\n", len(sets), a.cfg.Storage.DB)
		}
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <document> [catalog paths...]",
	Short: "Verify the symbol references of a document against the catalogs",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		annotate, _ := cmd.Flags().GetBool("annotate")
		drop, _ := cmd.Flags().GetBool("drop")
		fuzzy, _ := cmd.Flags().GetBool("fuzzy")

		a, err := initApp(fuzzy)
		if err != nil {
			log.Fatalf("Failed to initialize: %v", err)
		}
		defer a.Close()

		doc, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatalf("Failed to read document: %v", err)
		}
		claims := citation.ExtractClaims(string(doc))
		fmt.Printf("🔍 %d symbol references found in %s\n", len(claims), filepath.Base(args[0]))
		if len(claims) == 0 {
			return
		}

		a.loadCatalogs(ctx, args[1:])

		// A static document cannot be regenerated, so one attempt decides the round.
		rc := a.cfg.RetryController(a.session)
		rc.MaxAttempts = 1
		round, runErr := rc.Run(ctx, func(context.Context, int) ([]validator.Claim, error) {
			return claims, nil
		})
		if runErr != nil && (round == nil || round.Batch == nil) {
			log.Fatalf("Verification failed: %v", runErr)
		}

		for _, r := range round.Batch.Results {
			if r.Validated {
				best, _ := r.Best()
				fmt.Printf("  ✅ %-40s %s:%d (%.2f, %d sources)\n", r.Claim.Text, best.FilePath, best.Line, r.Confidence, r.SourcesAgreeing)
			} else {
				fmt.Printf("  ❌ %-40s %s\n", r.Claim.Text, r.Reason)
			}
		}

		m := round.Metrics
		fmt.Printf("\n📊 Round %s: %d/%d verified, hallucination rate %.2f%% (threshold %.2f%%)\n",
			round.RoundID, m.VerifiedClaims, m.TotalClaims, m.HallRate*100, m.Threshold*100)

		if annotate {
			out, stats := citation.Annotate(string(doc), round.Batch.Results, citation.Options{DropUnverified: drop})
			fmt.Printf("\n📝 %d cited, %d flagged, %d dropped\n\n%s\n", stats.Cited, stats.Flagged, stats.Dropped, out)
		}

		switch {
		case runErr == nil && round.Accepted:
			fmt.Println("✨ Document accepted")
		case runErr == nil:
			fmt.Println("⚠️  Hallucination rate exceeds the threshold")
		case errors.Is(runErr, gate.ErrHallMetricExceeded):
			fmt.Printf("❌ %v\n", runErr)
			os.Exit(2)
		default:
			log.Fatalf("Verification failed: %v", runErr)
		}
	},
}

var roundsCmd = &cobra.Command{
	Use:   "rounds <round-id>",
	Short: "Show the stored attempts and claim verdicts of a round",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := initApp(false)
		if err != nil {
			log.Fatalf("Failed to initialize: %v", err)
		}
		defer a.Close()
		if a.store == nil {
			log.Fatalf("No database configured. Use --db or storage.db")
		}

		rounds, err := a.store.ListRounds(ctx, args[0])
		if err != nil {
			log.Fatalf("Failed to list rounds: %v", err)
		}
		if len(rounds) == 0 {
			fmt.Printf("No attempts stored for round %s\n", args[0])
			return
		}

		for _, r := range rounds {
			status := "rejected"
			if r.Accepted {
				status = "accepted"
			}
			fmt.Printf("🧾 Attempt %d (%s, %s): %d/%d verified, rate %.4f, threshold %.4f\n",
				r.Attempt, status, r.TakenAt.Format("2006-01-02 15:04:05"), r.Verified, r.Total, r.HallRate, r.Threshold)

			claims, err := a.store.ClaimResults(ctx, r.RoundID, r.Attempt)
			if err != nil {
				log.Fatalf("Failed to load claim results: %v", err)
			}
			for _, c := range claims {
				loc := string(c.Reason)
				if c.Best != nil {
					loc = fmt.Sprintf("%s:%d", c.Best.FilePath, c.Best.Line)
				}
				fmt.Printf("   %3d. %-40s %s\n", c.Index, c.Claim, loc)
			}
		}
	},
}
