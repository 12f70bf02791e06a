package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.ngs.io/glacier-enricher/internal/domain"
)

// DatasetFile is the per-glacier NetCDF file name.
const DatasetFile = "gridded_data.nc"

// RelativePath returns the per-glacier location of a dataset under a root,
// e.g. per_glacier/RGI60-11/RGI60-11.00/RGI60-11.00897/gridded_data.nc.
// Keys too short for the grouped layout use <key>/gridded_data.nc.
func RelativePath(key string) string {
	if len(key) < 11 {
		return filepath.Join(key, DatasetFile)
	}
	return filepath.Join("per_glacier", key[:8], key[:11], key, DatasetFile)
}

// ValidKey reports whether key can name a dataset on disk: a single,
// non-empty path element that stays inside the directory it is joined to.
func ValidKey(key string) bool {
	if key == "" || key == "." || strings.Contains(key, "..") || strings.ContainsAny(key, "/\\\x00") {
		return false
	}
	return filepath.IsLocal(key)
}

// FindDataset returns the dataset file for key under root, trying the
// per-glacier layout first and the flat <root>/<key>/ layout second.
// Invalid keys are reported as missing.
func FindDataset(root, key string) (string, error) {
	if !ValidKey(key) {
		return "", &domain.MissingDatasetError{Key: key}
	}
	candidates := []string{
		filepath.Join(root, RelativePath(key)),
		filepath.Join(root, key, DatasetFile),
	}
	for _, p := range candidates {
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return "", &domain.MissingDatasetError{Key: key}
}

// ScanKeys walks root and returns the sorted keys of every glacier directory
// holding a dataset file.
func ScanKeys(root string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("dataset root %s: %w", root, err)
	}

	seen := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != DatasetFile {
			return nil
		}
		seen[filepath.Base(filepath.Dir(path))] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk dataset root: %w", err)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// ReadFunc decodes one dataset file.
type ReadFunc func(path, key string) (*domain.GriddedDataset, error)

// FileStore resolves keys to dataset files under a root directory and keeps
// every decoded dataset in memory.
type FileStore struct {
	root  string
	read  ReadFunc
	cache map[string]*domain.GriddedDataset // Cache loaded datasets.
	mu    sync.RWMutex                      // Protect cache.
}

// NewFileStore creates a store reading datasets under root with read.
func NewFileStore(root string, read ReadFunc) *FileStore {
	return &FileStore{
		root:  root,
		read:  read,
		cache: make(map[string]*domain.GriddedDataset),
	}
}

// Root returns the directory the store reads from.
func (s *FileStore) Root() string {
	return s.root
}

// Lookup implements DatasetLookup.
func (s *FileStore) Lookup(key string) (*domain.GriddedDataset, error) {
	// Check cache first.
	s.mu.RLock()
	if ds, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return ds, nil
	}
	s.mu.RUnlock()

	path, err := FindDataset(s.root, key)
	if err != nil {
		return nil, err
	}
	ds, err := s.read(path, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", key, err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = ds
	s.mu.Unlock()

	return ds, nil
}

// Keys implements DatasetLookup.
func (s *FileStore) Keys() ([]string, error) {
	return ScanKeys(s.root)
}
