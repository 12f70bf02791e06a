// Package memory provides an in-memory dataset lookup.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"go.ngs.io/glacier-enricher/internal/domain"
)

// Store maps keys directly to datasets.
type Store struct {
	mu       sync.RWMutex
	datasets map[string]*domain.GriddedDataset
}

// New builds a store from datasets. Duplicate keys are rejected.
func New(datasets ...*domain.GriddedDataset) (*Store, error) {
	s := &Store{datasets: make(map[string]*domain.GriddedDataset, len(datasets))}
	for _, ds := range datasets {
		if err := s.Put(ds); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Put adds a dataset after validating it.
func (s *Store) Put(ds *domain.GriddedDataset) error {
	if ds == nil {
		return fmt.Errorf("nil dataset")
	}
	if err := ds.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[ds.Key]; ok {
		return fmt.Errorf("duplicate dataset key %s", ds.Key)
	}
	s.datasets[ds.Key] = ds
	return nil
}

// Lookup returns the dataset for key.
func (s *Store) Lookup(key string) (*domain.GriddedDataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.datasets[key]
	if !ok {
		return nil, &domain.MissingDatasetError{Key: key}
	}
	return ds, nil
}

// Keys returns the sorted dataset keys.
func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.datasets))
	for k := range s.datasets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
