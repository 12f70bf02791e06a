// Package snapshot persists decoded datasets as zstd-compressed msgpack so
// later runs skip NetCDF decoding.
package snapshot

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"go.ngs.io/glacier-enricher/internal/adapter/store"
	"go.ngs.io/glacier-enricher/internal/domain"
	"go.ngs.io/glacier-enricher/internal/log"
)

// Ext is the snapshot file suffix.
const Ext = ".msgpack.zst"

// record is the serialized form of a dataset.
type record struct {
	Key    string
	CRS    string
	NX, NY int
	X0, Y0 float64
	DX, DY float64
	Layers []layerRecord
}

type layerRecord struct {
	Name   string
	Values []float64
	Fill   *float64 `msgpack:",omitempty"`
}

// Save writes ds to w (msgpack + zstd compression).
func Save(w io.Writer, ds *domain.GriddedDataset) error {
	rec := record{
		Key: ds.Key,
		CRS: ds.CRS,
		NX:  ds.Geometry.NX, NY: ds.Geometry.NY,
		X0: ds.Geometry.X0, Y0: ds.Geometry.Y0,
		DX: ds.Geometry.DX, DY: ds.Geometry.DY,
	}
	for _, name := range ds.LayerNames() {
		l := ds.Layers[name]
		rec.Layers = append(rec.Layers, layerRecord{Name: name, Values: l.Values, Fill: l.FillValue})
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	defer zw.Close()

	if err := msgpack.NewEncoder(zw).Encode(&rec); err != nil {
		return fmt.Errorf("failed to encode dataset %s: %w", ds.Key, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zstd writer: %w", err)
	}
	return nil
}

// Load reads a dataset written by Save.
func Load(r io.Reader) (*domain.GriddedDataset, error) {
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	var rec record
	if err := msgpack.NewDecoder(zr).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}

	ds := domain.NewGriddedDataset(rec.Key, rec.CRS, domain.GridGeometry{
		NX: rec.NX, NY: rec.NY,
		X0: rec.X0, Y0: rec.Y0,
		DX: rec.DX, DY: rec.DY,
	})
	for _, l := range rec.Layers {
		if err := ds.AddLayer(l.Name, l.Values, l.Fill); err != nil {
			return nil, err
		}
	}
	return ds, ds.Validate()
}

// Store is a DatasetLookup that serves snapshots from dir and falls back to
// the wrapped lookup, snapshotting whatever it returns.
type Store struct {
	dir    string
	next   store.DatasetLookup
	logger *log.Logger
}

// New wraps next with a snapshot directory.
func New(dir string, next store.DatasetLookup, logger *log.Logger) *Store {
	return &Store{dir: dir, next: next, logger: logger}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+Ext)
}

// Lookup implements store.DatasetLookup. Snapshot write failures are logged
// and do not fail the lookup.
func (s *Store) Lookup(key string) (*domain.GriddedDataset, error) {
	if !store.ValidKey(key) {
		return nil, &domain.MissingDatasetError{Key: key}
	}
	ds, err := s.read(key)
	if err == nil {
		return ds, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("discarding unreadable snapshot", "key", key, "error", err)
	}

	ds, err = s.next.Lookup(key)
	if err != nil {
		return nil, err
	}
	if err := s.Put(ds); err != nil {
		s.logger.Warn("failed to write snapshot", "key", key, "error", err)
	}
	return ds, nil
}

// Keys merges snapshot keys with the wrapped lookup's keys.
func (s *Store) Keys() ([]string, error) {
	keys, err := s.next.Keys()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	for _, e := range entries {
		if k, ok := strings.CutSuffix(e.Name(), Ext); ok && !e.IsDir() && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *Store) read(key string) (*domain.GriddedDataset, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Put writes a snapshot of ds atomically, replacing any previous one.
func (s *Store) Put(ds *domain.GriddedDataset) error {
	if !store.ValidKey(ds.Key) {
		return fmt.Errorf("invalid dataset key %q", ds.Key)
	}
	//nolint:gosec // G301: Standard cache directory permissions.
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ds.Key+".*.tmp")
	if err != nil {
		return err
	}
	if err := Save(tmp, ds); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(ds.Key))
}
