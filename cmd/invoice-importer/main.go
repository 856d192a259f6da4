package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/invoice-importer/internal/extraction"
	"github.com/zombor/invoice-importer/internal/inventory"
	"github.com/zombor/invoice-importer/internal/jobs"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("invoice-importer")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "invoice-importer.db", "Inventory database file path")
		storagePath   = fs.StringLong("storage", "./documents", "Directory for uploaded documents")
		workers       = fs.IntLong("workers", 4, "Number of extraction workers")
		parserName    = fs.StringLong("parser", "generic", "Default line item parser: 'generic', 'ikea', 'gemini' or 'ollama'")
		jobTTL        = fs.DurationLong("job-ttl", time.Hour, "How long finished jobs are kept")
		maxJobs       = fs.IntLong("max-jobs", 1000, "Maximum number of jobs kept in memory (0 for no limit)")
		sweepInterval = fs.DurationLong("sweep-interval", time.Minute, "How often expired jobs are evicted")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "", "Ollama model name, enables the ollama parser (e.g., llama3.1, qwen2.5)")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_IMPORTER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := inventory.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize parsers. The pattern parsers are always available, the model
	// backed ones only when configured.
	parsers := []extraction.Parser{extraction.Generic, extraction.IKEA}

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey != "" {
		slog.Info("Initializing Gemini parser...", "model", *geminiModel)
		gemini, err := extraction.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		defer gemini.Close()
		parsers = append(parsers, gemini)
	}

	if *ollamaModel != "" {
		slog.Info("Initializing Ollama parser...", "url", *ollamaURL, "model", *ollamaModel)
		ollama, err := extraction.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
		defer ollama.Close()
		parsers = append(parsers, ollama)
	}

	registry, err := extraction.NewRegistry(*parserName, parsers...)
	if err != nil {
		slog.Error("Invalid parser configuration", "parser", *parserName, "error", err)
		os.Exit(1)
	}
	slog.Info("Parsers ready", "default", *parserName, "available", registry.Names())

	// Initialize storage
	slog.Info("Initializing storage...")
	storage, err := jobs.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize job store, workers and service
	jobStore := jobs.NewStore(
		jobs.WithTTL(*jobTTL),
		jobs.WithMaxJobs(*maxJobs),
		jobs.WithEvictHook(jobs.DeleteDocumentOnEvict(storage)),
	)
	defer jobStore.Close()

	pipeline := jobs.NewPipeline(extraction.NewPDFExtractor(), registry)
	worker := jobs.NewWorker(jobStore, pipeline, jobs.LogNotifier{})
	pool := jobs.NewWorkerPool(jobStore, worker, *workers)
	jobService := jobs.NewService(jobStore, pipeline, pool, storage, db)

	// Initialize server
	basicAuth := jobs.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := jobs.NewServer(jobService, basicAuth, version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", *port)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx, addr)
	})
	g.Go(func() error {
		pool.Run(ctx)
		return nil
	})
	g.Go(func() error {
		jobStore.Run(ctx, *sweepInterval)
		return nil
	})

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "workers", *workers)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutting down...")
}
