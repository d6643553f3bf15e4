// =============================================================================
// ragflow entry point
// =============================================================================
// Command line for the adaptive retrieval pipeline: run a query against a
// local corpus without any external services, inspect the archive ledger,
// and manage the archive schema.
//
// Usage:
//
//	ragflow query --corpus ./docs "how does the cache work"
//	ragflow query --config config.yaml --json "..."
//	ragflow stats                         # archive summary and recent runs
//	ragflow migrate up                    # apply pending schema migrations
//	ragflow migrate status                # show migration status
//	ragflow version                       # show version information
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/internal/archive"
	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/internal/telemetry"
	"github.com/BaSui01/ragflow/rag"
)

// =============================================================================
// Version information (injected at build time)
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// Main
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "query":
		runQuery(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// query command
// =============================================================================

// runQuery indexes a corpus directory into the in-process vector store and
// answers one query through the full pipeline. Generation is extractive, so
// the command works with no model endpoint configured.
func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	corpus := fs.String("corpus", ".", "Directory of documents to index")
	asJSON := fs.Bool("json", false, "Print the full result as JSON")
	fs.Parse(args)

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "Usage: ragflow query [options] <question>")
		os.Exit(1)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting ragflow query",
		zap.String("version", Version),
		zap.String("corpus", *corpus),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	if otelProviders != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			otelProviders.Shutdown(shutdownCtx)
		}()
	}

	ctx := context.Background()

	fragments, err := rag.LoadCorpus(ctx, *corpus, nil, rag.NewChunker(0, 0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load corpus: %v\n", err)
		os.Exit(1)
	}
	store := rag.NewMemoryVectorStore()
	if err := store.Index(ctx, fragments); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to index corpus: %v\n", err)
		os.Exit(1)
	}
	logger.Info("corpus indexed",
		zap.Int("documents", countSources(fragments)),
		zap.Int("fragments", store.Len()),
	)

	sinks := rag.MultiSink{metrics.NewCollector("ragflow", logger)}
	if cfg.Archive.Enabled {
		arc, err := archive.Open(cfg.Archive, logger)
		if err != nil {
			logger.Warn("archive unavailable, continuing without it", zap.Error(err))
		} else {
			defer arc.Close()
			if err := arc.RecordFragments(ctx, fragments); err != nil {
				logger.Warn("fragment ledger update failed", zap.Error(err))
			}
			sinks = append(sinks, arc)
		}
	}

	engine, err := rag.NewEngine(*cfg, rag.Deps{
		Vector:    store,
		Completer: extractiveCompleter{},
		Metrics:   sinks,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	result, err := engine.Query(ctx, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}
	printResult(result)
}

func countSources(fragments []rag.Fragment) int {
	seen := make(map[string]struct{}, len(fragments))
	for _, f := range fragments {
		seen[f.Source] = struct{}{}
	}
	return len(seen)
}

func printResult(res *rag.RAGResult) {
	fmt.Println()
	fmt.Println(res.Answer)
	fmt.Println()
	fmt.Printf("Intent: %s   Confidence: %d/100   Latency: %s   Cache: %s\n",
		res.Intent, res.Confidence, res.Latency.Round(time.Millisecond), cacheLabel(res.CacheHit))
	fmt.Printf("Fragments: %d retrieved, %d used\n", res.Retrieved, res.Used)
	if len(res.Sources) > 0 {
		fmt.Println("Sources:")
		for i, s := range res.Sources {
			fmt.Printf("  %d. %s\n", i+1, s)
		}
	}
	fmt.Printf("Request ID: %s\n", res.RequestID)
}

func cacheLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// =============================================================================
// stats command
// =============================================================================

// runStats summarizes the archive: run counts, per-intent breakdown, ledger
// size and the most recent runs. Logging stays off so the table is the only
// output.
func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	driver := fs.String("driver", "", "Archive driver override (sqlite, mysql, postgres)")
	dsn := fs.String("dsn", "", "Archive DSN override")
	recent := fs.Int("recent", 10, "Number of recent runs to list")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *driver != "" {
		cfg.Archive.Driver = *driver
	}
	if *dsn != "" {
		cfg.Archive.DSN = *dsn
	}
	if *driver != "" && *dsn != "" {
		cfg.Archive.Enabled = true
	}
	if !cfg.Archive.Enabled {
		fmt.Fprintln(os.Stderr, "Archive is not enabled; set archive.enabled in the config or pass --driver and --dsn.")
		os.Exit(1)
	}

	arc, err := archive.Open(cfg.Archive, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open archive: %v\n", err)
		os.Exit(1)
	}
	defer arc.Close()

	ctx := context.Background()
	stats, err := arc.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read archive: %v\n", err)
		os.Exit(1)
	}
	runs, err := arc.RecentRuns(ctx, *recent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list recent runs: %v\n", err)
		os.Exit(1)
	}

	printStats(stats, runs)
}

func printStats(stats archive.Stats, runs []archive.QueryRun) {
	fmt.Println("Archive summary")
	fmt.Printf("  Runs:            %d\n", stats.Runs)
	if stats.Runs > 0 {
		fmt.Printf("  Cache hits:      %d (%.1f%%)\n", stats.CacheHits, 100*float64(stats.CacheHits)/float64(stats.Runs))
		fmt.Printf("  Failures:        %d\n", stats.Failures)
		fmt.Printf("  Avg elapsed:     %.0f ms\n", stats.AvgElapsedMS)
		fmt.Printf("  Avg confidence:  %.1f/100\n", stats.AvgConfidence)
	}
	fmt.Printf("  Known fragments: %d\n", stats.KnownFragments)

	if len(stats.PerIntent) > 0 {
		fmt.Println("\nRuns per intent")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, intent := range []string{"code", "status", "explain", "objective", "general"} {
			if n, ok := stats.PerIntent[intent]; ok {
				fmt.Fprintf(w, "  %s\t%d\n", intent, n)
			}
		}
		w.Flush()
	}

	if len(runs) > 0 {
		fmt.Println("\nRecent runs")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  ID\tTIME\tINTENT\tCACHE\tCONF\tELAPSED\tQUERY")
		for _, r := range runs {
			fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%d\t%dms\t%s\n",
				r.ID,
				r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				r.Intent,
				cacheLabel(r.CacheHit),
				r.Confidence,
				r.ElapsedMS,
				truncateQuery(r.Query, 48),
			)
		}
		w.Flush()
	}
}

func truncateQuery(q string, limit int) string {
	runes := []rune(q)
	if len(runes) <= limit {
		return q
	}
	return string(runes[:limit-3]) + "..."
}

// =============================================================================
// version and help
// =============================================================================

func printVersion() {
	fmt.Printf("ragflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ragflow - adaptive retrieval pipeline

Usage:
  ragflow <command> [options]

Commands:
  query     Answer a question from a local corpus (offline, no model endpoint)
  stats     Summarize the archive ledger
  migrate   Archive schema migration commands
  version   Show version information
  help      Show this help message

Options for 'query':
  --config <path>   Path to configuration file (YAML)
  --corpus <dir>    Directory of documents to index (default ".")
  --json            Print the full result as JSON

Options for 'stats':
  --config <path>   Path to configuration file (YAML)
  --driver <name>   Archive driver override (sqlite, mysql, postgres)
  --dsn <url>       Archive DSN override
  --recent <n>      Number of recent runs to list (default 10)

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate goto <v>  Migrate to a specific version
  migrate force <v> Force set migration version
  migrate reset     Rollback all migrations

Examples:
  ragflow query --corpus ./docs "how does the result cache pick TTLs"
  ragflow query --config config.yaml --json "what is the project status"
  ragflow stats --recent 20
  ragflow migrate up
  ragflow version`)
}

// =============================================================================
// Logger initialization
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}
