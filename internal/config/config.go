// Package config loads enricher settings from a YAML file, a .env file,
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"go.ngs.io/glacier-enricher/internal/adapter/interp"
	"go.ngs.io/glacier-enricher/internal/adapter/projection"
	"go.ngs.io/glacier-enricher/internal/usecase"
)

// Config is the full application configuration.
type Config struct {
	Enrich   EnrichConfig  `yaml:"enrich"`
	Input    InputConfig   `yaml:"input"`
	Output   OutputConfig  `yaml:"output"`
	Datasets DatasetConfig `yaml:"datasets"`
	Fetch    FetchConfig   `yaml:"fetch"`
	Server   ServerConfig  `yaml:"server"`
	Log      LogConfig     `yaml:"log"`
}

// EnrichConfig holds the sampling options.
type EnrichConfig struct {
	Variables   []string `yaml:"variables"`
	SourceCRS   string   `yaml:"source_crs"`
	FailFast    bool     `yaml:"fail_fast"`
	Workers     int      `yaml:"workers"`
	Method      string   `yaml:"method"`
	ClampToEdge bool     `yaml:"clamp_to_edge"`
}

// InputConfig describes the observation table.
type InputConfig struct {
	Path      string `yaml:"path"`
	KeyColumn string `yaml:"key_column"`
	LatColumn string `yaml:"lat_column"`
	LonColumn string `yaml:"lon_column"`
}

// OutputConfig describes the enriched table and report.
type OutputConfig struct {
	Path         string `yaml:"path"`
	ReportPath   string `yaml:"report_path"`
	NoDataMarker string `yaml:"nodata_marker"`
	ErrorColumn  string `yaml:"error_column"`
}

// DatasetConfig selects where and how gridded datasets are read.
type DatasetConfig struct {
	Root        string   `yaml:"root"`
	Reader      string   `yaml:"reader"` // "netcdf" (C library) or "native" (pure Go).
	SnapshotDir string   `yaml:"snapshot_dir"`
	Layers      []string `yaml:"layers"`
	DefaultCRS  string   `yaml:"default_crs"`
}

// FetchConfig selects the remote source of missing datasets.
type FetchConfig struct {
	Backend         string   `yaml:"backend"` // "", "http", "gcs", "s3" or "local".
	URL             string   `yaml:"url"`
	Bucket          string   `yaml:"bucket"`
	Prefix          string   `yaml:"prefix"`
	Region          string   `yaml:"region"`
	CredentialsJSON string   `yaml:"credentials_json"`
	Keys            []string `yaml:"keys"`
	TimeoutSeconds  int      `yaml:"timeout_seconds"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               string `yaml:"port"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Enrich: EnrichConfig{
			SourceCRS: projection.WGS84,
			Workers:   1,
			Method:    interp.Nearest.String(),
		},
		Input: InputConfig{
			KeyColumn: "RGIId",
			LatColumn: "POINT_LAT",
			LonColumn: "POINT_LON",
		},
		Output: OutputConfig{
			NoDataMarker: "NaN",
		},
		Datasets: DatasetConfig{
			Root:   "./data",
			Reader: "netcdf",
		},
		Fetch: FetchConfig{
			TimeoutSeconds: 300,
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; existing variables are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		//nolint:gosec // G304: Config path is supplied by the operator.
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides individual settings from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v := getenv(name); v != "" {
			*dst = SplitList(v)
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) {
		if v := getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid boolean %q", name, v))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v := getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", name, v))
				return
			}
			*dst = n
		}
	}

	// Enrich settings.
	list("ENRICH_VARIABLES", &c.Enrich.Variables)
	str("ENRICH_SOURCE_CRS", &c.Enrich.SourceCRS)
	boolean("ENRICH_FAIL_FAST", &c.Enrich.FailFast)
	integer("ENRICH_WORKERS", &c.Enrich.Workers)
	str("ENRICH_METHOD", &c.Enrich.Method)
	boolean("ENRICH_CLAMP_TO_EDGE", &c.Enrich.ClampToEdge)

	// Input and output.
	str("INPUT_PATH", &c.Input.Path)
	str("INPUT_KEY_COLUMN", &c.Input.KeyColumn)
	str("INPUT_LAT_COLUMN", &c.Input.LatColumn)
	str("INPUT_LON_COLUMN", &c.Input.LonColumn)
	str("OUTPUT_PATH", &c.Output.Path)
	str("OUTPUT_REPORT_PATH", &c.Output.ReportPath)
	str("OUTPUT_NODATA_MARKER", &c.Output.NoDataMarker)
	str("OUTPUT_ERROR_COLUMN", &c.Output.ErrorColumn)

	// Datasets.
	str("DATA_DIR", &c.Datasets.Root)
	str("DATASET_READER", &c.Datasets.Reader)
	str("SNAPSHOT_DIR", &c.Datasets.SnapshotDir)
	list("DATASET_LAYERS", &c.Datasets.Layers)
	str("DATASET_DEFAULT_CRS", &c.Datasets.DefaultCRS)

	// Fetch.
	str("FETCH_BACKEND", &c.Fetch.Backend)
	str("FETCH_URL", &c.Fetch.URL)
	str("FETCH_BUCKET", &c.Fetch.Bucket)
	str("FETCH_PREFIX", &c.Fetch.Prefix)
	str("FETCH_REGION", &c.Fetch.Region)
	str("FETCH_GCS_CREDENTIALS", &c.Fetch.CredentialsJSON)
	list("FETCH_KEYS", &c.Fetch.Keys)
	integer("FETCH_TIMEOUT_SECONDS", &c.Fetch.TimeoutSeconds)

	// Server and logging.
	str("PORT", &c.Server.Port)
	str("CORS_ALLOWED_ORIGINS", &c.Server.CORSAllowedOrigins)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_DIR", &c.Log.Dir)

	return errors.Join(errs...)
}

// Validate checks settings that do not depend on external resources.
func (c *Config) Validate() error {
	if _, err := interp.ParseMethod(c.Enrich.Method); err != nil {
		return err
	}
	switch c.Datasets.Reader {
	case "", "netcdf", "native":
	default:
		return fmt.Errorf("unknown dataset reader %q (use netcdf or native)", c.Datasets.Reader)
	}
	switch c.Fetch.Backend {
	case "", "local", "http", "gcs", "s3":
	default:
		return fmt.Errorf("unknown fetch backend %q (use http, gcs, s3 or local)", c.Fetch.Backend)
	}
	if c.Enrich.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Enrich.Workers)
	}
	return nil
}

// FetchTimeout returns the per-download timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// UseCase converts the enrich section into the use-case configuration.
func (c *Config) UseCase() (usecase.EnrichConfig, error) {
	method, err := interp.ParseMethod(c.Enrich.Method)
	if err != nil {
		return usecase.EnrichConfig{}, err
	}
	return usecase.EnrichConfig{
		Variables:   c.Enrich.Variables,
		SourceCRS:   c.Enrich.SourceCRS,
		FailFast:    c.Enrich.FailFast,
		Workers:     c.Enrich.Workers,
		Method:      method,
		ClampToEdge: c.Enrich.ClampToEdge,
	}, nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
