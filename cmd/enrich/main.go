// Package main provides the batch enrichment command.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.ngs.io/glacier-enricher/internal/adapter/store/csv"
	"go.ngs.io/glacier-enricher/internal/config"
	"go.ngs.io/glacier-enricher/internal/domain"
	"go.ngs.io/glacier-enricher/internal/log"
	"go.ngs.io/glacier-enricher/internal/usecase"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	configPath := flag.String("config", os.Getenv("ENRICH_CONFIG"), "Path to YAML configuration file")
	envFile := flag.String("env", ".env", "Path to .env file (ignored if missing)")
	input := flag.String("input", "", "Observation CSV (\"-\" for stdin)")
	output := flag.String("output", "", "Enriched CSV (\"-\" or empty for stdout)")
	reportPath := flag.String("report", "", "Write the JSON run report here")
	vars := flag.String("vars", "", "Comma-separated variables to sample")
	sourceCRS := flag.String("source-crs", "", "CRS of the observation coordinates (default EPSG:4326)")
	failFast := flag.Bool("fail-fast", false, "Abort on the first failing observation")
	workers := flag.Int("workers", 0, "Number of concurrent dataset shards")
	method := flag.String("method", "", "Sampling method: nearest or bilinear")
	clamp := flag.Bool("clamp", false, "Snap points outside the grid to the edge cell")
	dataDir := flag.String("data-dir", "", "Root of the gridded dataset tree")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("glacier-enricher version %s\n", version)
		return
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flags that were set explicitly win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Input.Path = *input
		case "output":
			cfg.Output.Path = *output
		case "report":
			cfg.Output.ReportPath = *reportPath
		case "vars":
			cfg.Enrich.Variables = config.SplitList(*vars)
		case "source-crs":
			cfg.Enrich.SourceCRS = *sourceCRS
		case "fail-fast":
			cfg.Enrich.FailFast = *failFast
		case "workers":
			cfg.Enrich.Workers = *workers
		case "method":
			cfg.Enrich.Method = *method
		case "clamp":
			cfg.Enrich.ClampToEdge = *clamp
		case "data-dir":
			cfg.Datasets.Root = *dataDir
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := log.New("enrich", cfg.Log.Level, cfg.Log.Dir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("enrichment failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	table, err := readTable(cfg)
	if err != nil {
		return err
	}
	logger.Info("observations loaded", "rows", len(table.Observations), "input", cfg.Input.Path)
	addFetchKeys(cfg, table.Observations)

	lookup, err := cfg.OpenLookup(ctx, logger)
	if err != nil {
		return err
	}
	uc, err := cfg.UseCase()
	if err != nil {
		return err
	}
	enricher, err := usecase.NewEnricher(uc, lookup, nil, logger)
	if err != nil {
		return err
	}

	report, runErr := enricher.Run(ctx, table.Observations)

	if cfg.Output.ReportPath != "" {
		if err := writeReport(cfg.Output.ReportPath, report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}

	if err := writeTable(cfg, table, enricher.Config(), report); err != nil {
		return err
	}
	for kind, n := range report.FailuresByKind {
		logger.Warn("observations failed", "kind", kind, "count", n)
	}
	return nil
}

// addFetchKeys announces the input's keys as remote datasets, so a run
// against an empty dataset root fetches what it needs.
func addFetchKeys(cfg *config.Config, obs []*domain.Observation) {
	if cfg.Fetch.Backend == "" {
		return
	}
	seen := make(map[string]bool, len(cfg.Fetch.Keys))
	for _, k := range cfg.Fetch.Keys {
		seen[k] = true
	}
	for _, o := range obs {
		if o.Key == "" || seen[o.Key] {
			continue
		}
		seen[o.Key] = true
		cfg.Fetch.Keys = append(cfg.Fetch.Keys, o.Key)
	}
}

func readTable(cfg *config.Config) (*csv.Table, error) {
	cols := csv.Columns{Key: cfg.Input.KeyColumn, Lat: cfg.Input.LatColumn, Lon: cfg.Input.LonColumn}

	var r io.Reader = os.Stdin
	if p := cfg.Input.Path; p != "" && p != "-" {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	return csv.LoadObservations(r, cols)
}

func writeTable(cfg *config.Config, table *csv.Table, uc usecase.EnrichConfig, report *domain.Report) error {
	opts := csv.WriteOptions{
		NoDataMarker: cfg.Output.NoDataMarker,
		ErrorColumn:  cfg.Output.ErrorColumn,
		Report:       report,
	}

	var w io.Writer = os.Stdout
	var f *os.File
	if p := cfg.Output.Path; p != "" && p != "-" {
		var err error
		f, err = os.Create(p)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		w = f
	}
	err := table.Write(w, uc.Variables, opts)
	if f != nil {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func writeReport(path string, report *domain.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("Glacier point enricher v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  enrich [flags] -input points.csv -vars topo,slope,aspect")
	fmt.Println()
	fmt.Println("FLAGS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  ENRICH_CONFIG           Path to YAML configuration file")
	fmt.Println("  ENRICH_VARIABLES        Comma-separated variables to sample")
	fmt.Println("  ENRICH_SOURCE_CRS       CRS of the observation coordinates (default: EPSG:4326)")
	fmt.Println("  ENRICH_WORKERS          Number of concurrent dataset shards (default: 1)")
	fmt.Println("  DATA_DIR                Gridded dataset root (default: ./data)")
	fmt.Println("  DATASET_READER          netcdf or native (default: netcdf)")
	fmt.Println("  SNAPSHOT_DIR            Cache decoded datasets here (optional)")
	fmt.Println("  FETCH_BACKEND           http, gcs, s3 or local (optional)")
	fmt.Println("  FETCH_URL               Base URL or directory for http/local fetches")
	fmt.Println("  FETCH_BUCKET            Bucket for gcs/s3 fetches")
	fmt.Println("  LOG_LEVEL               debug, info, warn or error (default: info)")
	fmt.Println("  LOG_DIR                 Write JSON logs here instead of stderr")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Sample three variables into a new CSV")
	fmt.Println("  enrich -input wgms_points.csv -output enriched.csv -vars topo,slope,aspect")
	fmt.Println()
	fmt.Println("  # Stop at the first failing row and keep a report")
	fmt.Println("  enrich -input points.csv -vars topo -fail-fast -report report.json")
	fmt.Println()
}
