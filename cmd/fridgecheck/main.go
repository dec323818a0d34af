package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/fridgecheck/internal/kitchen"
	"github.com/zombor/fridgecheck/internal/pipeline"
	"github.com/zombor/fridgecheck/internal/scanning"
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

	fs := ff.NewFlagSet("fridgecheck")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "fridgecheck.db", "Database file path")
		storagePath  = fs.StringLong("storage", "./scans", "Scan image storage directory")
		provider     = fs.StringLong("provider", "claude", "Model provider: 'claude' or 'gemini'")
		apiKey       = fs.StringLong("api-key", "", "Model API key used when preferences hold none (or set ANTHROPIC_API_KEY / GEMINI_API_KEY)")
		modelName    = fs.StringLong("model", "", "Model name (defaults per provider)")
		endpoint     = fs.StringLong("endpoint", "", "Claude messages endpoint override")
		maxDimension = fs.IntLong("max-dimension", scanning.DefaultMaxDimension, "Longest image side in pixels after resizing")
		jpegQuality  = fs.Float64Long("jpeg-quality", scanning.DefaultQuality, "JPEG quality between 0 and 1")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel     = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("FRIDGECHECK"),
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

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// Initialize database
	slog.Info("Initializing database...")
	db, err := kitchen.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize model client based on provider
	var model scanning.Model
	key := *apiKey
	switch *provider {
	case "claude":
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		slog.Info("Initializing Claude client...", "model", *modelName)
		model = scanning.NewClaude(*modelName, scanning.WithEndpoint(*endpoint))
	case "gemini":
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini client...", "model", *modelName)
		model = scanning.NewGemini(*modelName)
	default:
		slog.Error("Invalid provider", "provider", *provider, "valid", "claude or gemini")
		os.Exit(1)
	}
	defer model.Close()

	if key == "" {
		slog.Warn("No API key configured; scans fail until one is saved in preferences")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	scanner := scanning.NewScanner(scanning.Instrument(model, scanning.NewMetrics(registry), *provider))

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := kitchen.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := kitchen.NewService(db, store)
	scan := pipeline.New(scanner, kitchen.NewPipelineStore(service),
		pipeline.WithPrepareOptions(scanning.PrepareOptions{
			MaxDimension: *maxDimension,
			Quality:      *jpegQuality,
		}),
	)

	server := kitchen.NewServer(service, scan, kitchen.ServerConfig{
		BasicAuth: kitchen.BasicAuth{
			Username: *authUser,
			Password: *authPass,
		},
		APIKey:  key,
		Pinger:  scanner,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "provider", *provider, "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	scan.Reset()
}
