package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"piclocate/internal/api"
	"piclocate/internal/apperr"
	"piclocate/internal/config"
	"piclocate/internal/embedding"
	"piclocate/internal/index"
	"piclocate/internal/logging"
	"piclocate/internal/search"
	"piclocate/internal/source"
	"piclocate/internal/store"
	"piclocate/internal/vision"
)

// Exit codes: 0 success, 2 config error, 3 auth error, 4 DB unreachable,
// 5 source store unreachable.
const (
	exitOK     = 0
	exitConfig = 2
	exitAuth   = 3
	exitDB     = 4
	exitSource = 5
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "piclocate",
	Short: "PicLocate - natural-language image search over a cloud photo library",
	Long: `PicLocate indexes an externally hosted photo collection (objects, colors,
materials, rooms) and answers English or Hebrew queries through a three-stage
pipeline: hybrid retrieval, VLM verification, and blended re-ranking.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Initialize(".")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run one full indexing pass and exit",
	RunE:  runIndex,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a single search from the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print index statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "piclocate.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	searchCmd.Flags().String("lang", "auto", "query language: en, he or auto")
	searchCmd.Flags().Int("limit", 0, "max results (default from config)")
	rootCmd.AddCommand(serveCmd, indexCmd, searchCmd, statsCmd)
}

// deps is everything the commands need, wired once.
type deps struct {
	cfg      *config.Config
	st       *store.Store
	engine   *search.Engine
	tracker  *index.Tracker
	pipeline *index.Pipeline
	src      source.Store
}

func buildDeps(needSearch, needIndex bool) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInput, err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.New(cfg.DBURL, cfg.Embedding.Dims)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, err, "database unreachable")
	}

	drive := source.NewDriveClient(source.DriveConfig{
		BaseURL: cfg.Source.BaseURL,
		Token:   cfg.Source.Token,
		Timeout: cfg.Source.Timeout,
	})
	src := source.WithRetry(drive)

	var embedder embedding.Engine
	embCfg := cfg.Embedding
	if embCfg.Provider == "genai" && embCfg.APIKey == "" {
		embCfg.APIKey = cfg.VLM.APIKey
	}
	embedder, err = embedding.NewEngine(embCfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	seed, err := st.LoadProgress(context.Background())
	if err != nil {
		logger.Warn("progress restore failed", zap.Error(err))
	}
	tracker := index.NewTracker(seed)

	d := &deps{cfg: cfg, st: st, tracker: tracker, src: src}

	if needIndex {
		detector := vision.NewHTTPDetector(cfg.Detector.BaseURL, cfg.Detector.Timeout)
		analyzer := vision.NewAnalyzer(detector)
		d.pipeline = index.New(src, st, analyzer, embedder, cfg.Index, cfg.Source.RootID, tracker)
	}
	if needSearch {
		gen, err := search.NewGenAIGenerator(cfg.VLM)
		if err != nil {
			st.Close()
			return nil, err
		}
		verifier := search.NewVerifier(gen, src, cfg.VLM)
		d.engine = search.NewEngine(st, embedder, verifier, src, cfg.Search, cfg.Embedding.Timeout)
	}
	return d, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := buildDeps(true, true)
	if err != nil {
		return err
	}
	defer d.st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startRun := func() error {
		go func() {
			if err := d.pipeline.Run(context.Background()); err != nil {
				logger.Error("indexing run failed", zap.Error(err))
			}
		}()
		return nil
	}

	checks := map[string]api.HealthChecker{
		"db": func(ctx context.Context) error {
			return d.st.DB().PingContext(ctx)
		},
		"source_store": func(ctx context.Context) error {
			_, err := d.src.ListFolder(ctx, d.cfg.Source.RootID)
			return err
		},
	}

	server := api.NewServer(d.engine, d.st, d.tracker, startRun, checks)
	logger.Info("listening", zap.String("addr", d.cfg.ListenAddr))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Router().Run(d.cfg.ListenAddr) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

func runIndex(cmd *cobra.Command, args []string) error {
	d, err := buildDeps(false, true)
	if err != nil {
		return err
	}
	defer d.st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.pipeline.Run(ctx); err != nil {
		return err
	}
	snap := d.tracker.Snapshot()
	fmt.Printf("indexed %d/%d files (%d errors)\n", snap.ProcessedCount, snap.TotalCount, len(snap.Errors))
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	d, err := buildDeps(true, false)
	if err != nil {
		return err
	}
	defer d.st.Close()

	lang, _ := cmd.Flags().GetString("lang")
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	resp, err := d.engine.Search(cmd.Context(), query, lang, limit)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	d, err := buildDeps(false, false)
	if err != nil {
		return err
	}
	defer d.st.Close()

	stats, err := d.st.CollectStats(cmd.Context())
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// exitCode maps the error taxonomy onto process exit codes.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case apperr.KindInput:
			return exitConfig
		case apperr.KindAuth:
			return exitAuth
		case apperr.KindFatal:
			return exitDB
		case apperr.KindTransient:
			return exitSource
		}
	}
	return 1
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
