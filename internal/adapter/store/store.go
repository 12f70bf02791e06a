// Package store defines dataset lookup and the on-disk layout of glacier
// directories shared by the NetCDF readers.
package store

import "go.ngs.io/glacier-enricher/internal/domain"

// DatasetLookup resolves glacier keys to gridded datasets.
type DatasetLookup interface {
	// Lookup returns the dataset for key. Misses return an error matching
	// domain.ErrDatasetNotFound.
	Lookup(key string) (*domain.GriddedDataset, error)

	// Keys lists the keys this lookup can resolve.
	Keys() ([]string, error)
}
