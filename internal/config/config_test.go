package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.ngs.io/glacier-enricher/internal/adapter/interp"
	"go.ngs.io/glacier-enricher/internal/adapter/projection"
	"go.ngs.io/glacier-enricher/internal/adapter/store"
	"go.ngs.io/glacier-enricher/internal/adapter/store/gridded"
	"go.ngs.io/glacier-enricher/internal/domain"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Enrich.SourceCRS != projection.WGS84 {
		t.Errorf("expected WGS84 source CRS, got %q", cfg.Enrich.SourceCRS)
	}
	if cfg.Input.KeyColumn != "RGIId" {
		t.Errorf("expected RGIId key column, got %q", cfg.Input.KeyColumn)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enrich.yaml")
	yaml := `
enrich:
  variables: [topo, slope]
  workers: 4
  method: bilinear
datasets:
  root: /data/oggm
  reader: native
fetch:
  backend: http
  url: https://example.org/gdirs
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "")
	t.Setenv("ENRICH_WORKERS", "8")
	t.Setenv("ENRICH_VARIABLES", "topo, aspect ,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Enrich.Workers != 8 {
		t.Errorf("env should override workers, got %d", cfg.Enrich.Workers)
	}
	if !reflect.DeepEqual(cfg.Enrich.Variables, []string{"topo", "aspect"}) {
		t.Errorf("unexpected variables %v", cfg.Enrich.Variables)
	}
	if cfg.Enrich.Method != "bilinear" {
		t.Errorf("expected bilinear, got %q", cfg.Enrich.Method)
	}
	if cfg.Datasets.Root != "/data/oggm" || cfg.Datasets.Reader != "native" {
		t.Errorf("unexpected datasets section %+v", cfg.Datasets)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Input.LatColumn != "POINT_LAT" {
		t.Errorf("expected default lat column, got %q", cfg.Input.LatColumn)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port, got %q", cfg.Server.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	env := map[string]string{
		"ENRICH_FAIL_FAST": "maybe",
		"ENRICH_WORKERS":   "many",
		"PORT":             "9090",
	}
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) string { return env[k] })
	if err == nil {
		t.Fatal("expected error for invalid values")
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("valid values should still apply, got port %q", cfg.Server.Port)
	}
	if cfg.Enrich.Workers != 1 {
		t.Errorf("invalid worker count should be ignored, got %d", cfg.Enrich.Workers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"unknown method", func(c *Config) { c.Enrich.Method = "cubic" }, true},
		{"unknown reader", func(c *Config) { c.Datasets.Reader = "gdal" }, true},
		{"unknown backend", func(c *Config) { c.Fetch.Backend = "ftp" }, true},
		{"negative workers", func(c *Config) { c.Enrich.Workers = -1 }, true},
		{"s3 backend", func(c *Config) { c.Fetch.Backend = "s3" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUseCase(t *testing.T) {
	cfg := Default()
	cfg.Enrich.Variables = []string{"topo"}
	cfg.Enrich.Method = "bilinear"
	cfg.Enrich.ClampToEdge = true

	uc, err := cfg.UseCase()
	if err != nil {
		t.Fatalf("UseCase: %v", err)
	}
	if uc.Method != interp.Bilinear || !uc.ClampToEdge || len(uc.Variables) != 1 {
		t.Errorf("unexpected use-case config %+v", uc)
	}
}

func TestOpenLookup_RequiresBackendLocation(t *testing.T) {
	cfg := Default()
	cfg.Datasets.Root = t.TempDir()
	cfg.Fetch.Backend = "http"

	if _, err := cfg.OpenLookup(t.Context(), nil); err == nil {
		t.Error("expected error for http backend without url")
	}

	cfg.Fetch.URL = "https://example.org"
	if _, err := cfg.OpenLookup(t.Context(), nil); err != nil {
		t.Errorf("OpenLookup: %v", err)
	}
}

func TestLayers(t *testing.T) {
	tests := []struct {
		name      string
		reader    string
		layers    []string
		variables []string
		want      []string
	}{
		{"explicit list", "netcdf", []string{"topo"}, []string{"slope", "topo"}, []string{"topo", "slope"}},
		{"native loads everything", "native", nil, []string{"hugonnet_dhdt"}, nil},
		{"native with list", "native", []string{"topo"}, []string{"hugonnet_dhdt"}, []string{"topo", "hugonnet_dhdt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Datasets.Reader = tt.reader
			cfg.Datasets.Layers = tt.layers
			cfg.Enrich.Variables = tt.variables
			if got := cfg.layers(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("layers() = %v, want %v", got, tt.want)
			}
		})
	}

	cfg := Default()
	cfg.Datasets.Reader = "netcdf"
	cfg.Enrich.Variables = []string{"topo", "hugonnet_dhdt"}
	got := cfg.layers()
	if len(got) != len(gridded.DefaultLayers)+1 || got[len(got)-1] != "hugonnet_dhdt" {
		t.Errorf("expected default layers plus hugonnet_dhdt, got %v", got)
	}
}

// TestOpenLookup_RequestedLayer tests that a requested variable outside the
// default OGGM layer list is decoded by the cgo reader.
func TestOpenLookup_RequestedLayer(t *testing.T) {
	root := t.TempDir()
	key := "RGI60-11.00897"
	ds := domain.NewGriddedDataset(key, projection.WGS84, domain.GridGeometry{NX: 2, NY: 2, X0: 10, Y0: 46, DX: 0.1, DY: -0.1})
	if err := ds.AddLayer("topo", []float64{1, 2, 3, 4}, nil); err != nil {
		t.Fatal(err)
	}
	if err := ds.AddLayer("hugonnet_dhdt", []float64{-1.5, -1, -0.5, 0}, nil); err != nil {
		t.Fatal(err)
	}
	if err := gridded.WriteFile(filepath.Join(root, store.RelativePath(key)), ds); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := Default()
	cfg.Datasets.Root = root
	cfg.Datasets.Reader = "netcdf"
	cfg.Enrich.Variables = []string{"hugonnet_dhdt"}

	lookup, err := cfg.OpenLookup(t.Context(), nil)
	if err != nil {
		t.Fatalf("OpenLookup: %v", err)
	}
	got, err := lookup.Lookup(key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	layer, err := got.Layer("hugonnet_dhdt")
	if err != nil {
		t.Fatalf("expected hugonnet_dhdt to be loaded: %v", err)
	}
	if layer.Values[0] != -1.5 {
		t.Errorf("expected -1.5, got %v", layer.Values[0])
	}
	if _, err := got.Layer("topo"); err != nil {
		t.Errorf("default layers should still load: %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FETCH_PREFIX=oggm/v1.6\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FETCH_PREFIX", "")
	os.Unsetenv("FETCH_PREFIX")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("FETCH_PREFIX"); got != "oggm/v1.6" {
		t.Errorf("expected FETCH_PREFIX from .env, got %q", got)
	}
}
