package config

import (
	"context"
	"fmt"

	"go.ngs.io/glacier-enricher/internal/adapter/fetch"
	"go.ngs.io/glacier-enricher/internal/adapter/store"
	"go.ngs.io/glacier-enricher/internal/adapter/store/gridded"
	"go.ngs.io/glacier-enricher/internal/adapter/store/native"
	"go.ngs.io/glacier-enricher/internal/adapter/store/snapshot"
	"go.ngs.io/glacier-enricher/internal/log"
)

// OpenLookup builds the dataset lookup chain. Snapshots are consulted first,
// then the NetCDF files under the dataset root, which the mirror downloads
// when they are missing.
func (c *Config) OpenLookup(ctx context.Context, logger *log.Logger) (store.DatasetLookup, error) {
	opts := gridded.Options{
		Layers:     c.layers(),
		DefaultCRS: c.Datasets.DefaultCRS,
	}

	var lookup store.DatasetLookup
	switch c.Datasets.Reader {
	case "native":
		lookup = native.NewStore(c.Datasets.Root, opts)
	default:
		lookup = gridded.NewStore(c.Datasets.Root, opts)
	}
	logger.Info("dataset reader", "reader", c.Datasets.Reader, "root", c.Datasets.Root)

	backend, err := c.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	if backend != nil {
		lookup = fetch.NewMirror(ctx, backend, c.Datasets.Root, lookup,
			fetch.MirrorOptions{Keys: c.Fetch.Keys, Timeout: c.FetchTimeout()}, logger)
		logger.Info("dataset fetch enabled", "backend", c.Fetch.Backend)
	}

	if c.Datasets.SnapshotDir != "" {
		lookup = snapshot.New(c.Datasets.SnapshotDir, lookup, logger)
		logger.Info("dataset snapshots enabled", "dir", c.Datasets.SnapshotDir)
	}
	return lookup, nil
}

// layers returns the variables each dataset file is decoded with: the
// configured layer list (OGGM defaults for the cgo reader) plus every
// requested variable. The native reader loads all 2-D variables when no
// list is configured.
func (c *Config) layers() []string {
	base := c.Datasets.Layers
	if len(base) == 0 {
		if c.Datasets.Reader == "native" {
			return nil
		}
		base = gridded.DefaultLayers
	}

	seen := make(map[string]bool, len(base)+len(c.Enrich.Variables))
	out := make([]string, 0, len(base)+len(c.Enrich.Variables))
	for _, list := range [][]string{base, c.Enrich.Variables} {
		for _, name := range list {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func (c *Config) openBackend(ctx context.Context) (fetch.Backend, error) {
	f := c.Fetch
	switch f.Backend {
	case "":
		return nil, nil
	case "local":
		if f.URL == "" {
			return nil, fmt.Errorf("fetch backend local requires url (a directory)")
		}
		return fetch.LocalBackend{Root: f.URL}, nil
	case "http":
		if f.URL == "" {
			return nil, fmt.Errorf("fetch backend http requires url")
		}
		return fetch.NewHTTPBackend(f.URL, c.FetchTimeout()), nil
	case "gcs":
		if f.Bucket == "" {
			return nil, fmt.Errorf("fetch backend gcs requires bucket")
		}
		return fetch.NewGCSBackend(ctx, f.Bucket, f.Prefix, f.CredentialsJSON)
	case "s3":
		if f.Bucket == "" {
			return nil, fmt.Errorf("fetch backend s3 requires bucket")
		}
		return fetch.NewS3Backend(ctx, f.Bucket, f.Prefix, f.Region)
	}
	return nil, fmt.Errorf("unknown fetch backend %q", f.Backend)
}
