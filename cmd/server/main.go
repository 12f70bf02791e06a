// Package main provides the glacier enrichment HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.ngs.io/glacier-enricher/internal/adapter/projection"
	"go.ngs.io/glacier-enricher/internal/adapter/store/csv"
	"go.ngs.io/glacier-enricher/internal/config"
	httpHandler "go.ngs.io/glacier-enricher/internal/http"
	"go.ngs.io/glacier-enricher/internal/log"
	"go.ngs.io/glacier-enricher/internal/usecase"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	configPath := flag.String("config", os.Getenv("ENRICH_CONFIG"), "Path to YAML configuration file")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("glacier-enricher-server version %s\n", version)
		return
	}

	// Load configuration from file and environment.
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(cfg.Enrich.Variables) == 0 {
		cfg.Enrich.Variables = []string{"topo"}
	}

	logger := log.New("server", cfg.Log.Level, cfg.Log.Dir)
	logger.Info("starting glacier enrichment server",
		"version", version,
		"port", cfg.Server.Port,
		"data_dir", cfg.Datasets.Root,
		"variables", cfg.Enrich.Variables)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dataset lookup.
	lookup, err := cfg.OpenLookup(ctx, logger)
	if err != nil {
		logger.Error("failed to open datasets", "error", err)
		os.Exit(1)
	}

	// Initialize use case. Transformers are shared across requests.
	uc, err := cfg.UseCase()
	if err != nil {
		logger.Error("invalid enrich configuration", "error", err)
		os.Exit(1)
	}
	projections, err := projection.NewCache(projection.DefaultCacheSize)
	if err != nil {
		logger.Error("failed to create projection cache", "error", err)
		os.Exit(1)
	}
	enricher, err := usecase.NewEnricher(uc, lookup, projections, logger)
	if err != nil {
		logger.Error("failed to create enricher", "error", err)
		os.Exit(1)
	}

	// Setup router.
	handler := httpHandler.NewHandler(enricher, lookup, httpHandler.Options{
		Columns:      csv.Columns{Key: cfg.Input.KeyColumn, Lat: cfg.Input.LatColumn, Lon: cfg.Input.LonColumn},
		NoDataMarker: cfg.Output.NoDataMarker,
	})
	router := httpHandler.SetupRouter(handler, cfg.Server.CORSAllowedOrigins)

	// Start server.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("server listening", "addr", srv.Addr,
		"health", fmt.Sprintf("http://localhost:%s/health", cfg.Server.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("Glacier Enrichment Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -config PATH   YAML configuration file (or ENRICH_CONFIG)")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  PORT                    Server port (default: 8080)")
	fmt.Println("  DATA_DIR                Gridded dataset root (default: ./data)")
	fmt.Println("  ENRICH_VARIABLES        Default variables to sample (default: topo)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println("  SNAPSHOT_DIR            Cache decoded datasets here (optional)")
	fmt.Println("  FETCH_BACKEND           http, gcs, s3 or local (optional)")
	fmt.Println("  LOG_LEVEL               debug, info, warn or error (default: info)")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET  /health                         Health check")
	fmt.Println("  GET  /v1/datasets                    List dataset keys")
	fmt.Println("  GET  /v1/datasets/:key/sample        Sample one point (lat, lon, variables)")
	fmt.Println("  POST /v1/enrich                      Enrich a JSON or CSV batch")
	fmt.Println()
}
