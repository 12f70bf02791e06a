package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"

	"go.ngs.io/glacier-enricher/internal/adapter/store"
	"go.ngs.io/glacier-enricher/internal/domain"
	"go.ngs.io/glacier-enricher/internal/log"
)

// Mirror is a DatasetLookup that downloads missing dataset files into root
// before delegating to a lookup reading the same root.
type Mirror struct {
	ctx     context.Context
	backend Backend
	root    string
	next    store.DatasetLookup
	keys    []string
	timeout time.Duration
	logger  *log.Logger
	group   singleflight.Group
}

// MirrorOptions configures a Mirror.
type MirrorOptions struct {
	// Keys are advertised in addition to those already on disk.
	Keys []string
	// Timeout bounds one download. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// NewMirror creates a mirror. ctx bounds every download.
func NewMirror(ctx context.Context, backend Backend, root string, next store.DatasetLookup, opts MirrorOptions, logger *log.Logger) *Mirror {
	return &Mirror{
		ctx:     ctx,
		backend: backend,
		root:    root,
		next:    next,
		keys:    opts.Keys,
		timeout: opts.Timeout,
		logger:  logger,
	}
}

// Lookup implements store.DatasetLookup.
func (m *Mirror) Lookup(key string) (*domain.GriddedDataset, error) {
	if !store.ValidKey(key) {
		return nil, &domain.MissingDatasetError{Key: key}
	}
	if _, err := store.FindDataset(m.root, key); err != nil {
		if !errors.Is(err, domain.ErrDatasetNotFound) {
			return nil, err
		}
		if _, err, _ := m.group.Do(key, func() (any, error) {
			return nil, m.download(key)
		}); err != nil {
			return nil, err
		}
	}
	return m.next.Lookup(key)
}

// Keys merges the wrapped lookup's keys with the configured remote keys.
func (m *Mirror) Keys() ([]string, error) {
	local, err := m.next.Keys()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	seen := make(map[string]bool)
	var keys []string
	for _, k := range append(local, m.keys...) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// download fetches the dataset for key, trying the plain object first and a
// zstd-compressed one second.
func (m *Mirror) download(key string) error {
	ctx := m.ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	rel := store.RelativePath(key)
	remote := filepath.ToSlash(rel)
	dest := filepath.Join(m.root, rel)
	start := time.Now()

	r, err := m.backend.OpenRead(ctx, remote)
	compressed := false
	if errors.Is(err, fs.ErrNotExist) {
		r, err = m.backend.OpenRead(ctx, remote+".zst")
		compressed = true
	}
	if errors.Is(err, fs.ErrNotExist) {
		return &domain.MissingDatasetError{Key: key}
	}
	if err != nil {
		return fmt.Errorf("failed to fetch dataset %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()

	var src io.Reader = r
	if compressed {
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(0))
		if err != nil {
			return fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	n, err := writeAtomic(dest, src)
	if err != nil {
		return fmt.Errorf("failed to store dataset %s: %w", key, err)
	}
	m.logger.Info("downloaded dataset", "key", key, "bytes", n, "compressed", compressed, "elapsed", time.Since(start))
	return nil
}

func writeAtomic(dest string, r io.Reader) (int64, error) {
	//nolint:gosec // G301: Standard data directory permissions.
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Close()
	} else {
		_ = tmp.Close()
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return n, err
	}
	return n, os.Rename(tmp.Name(), dest)
}
