// Package csv reads observation tables and writes them back enriched.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"go.ngs.io/glacier-enricher/internal/domain"
)

// Columns names the key and coordinate columns of an observation table.
type Columns struct {
	Key string
	Lat string
	Lon string
}

// DefaultColumns returns the column names of the glacier point-mass-balance tables.
func DefaultColumns() Columns {
	return Columns{Key: "RGIId", Lat: "POINT_LAT", Lon: "POINT_LON"}
}

func (c Columns) withDefaults() Columns {
	def := DefaultColumns()
	if c.Key == "" {
		c.Key = def.Key
	}
	if c.Lat == "" {
		c.Lat = def.Lat
	}
	if c.Lon == "" {
		c.Lon = def.Lon
	}
	return c
}

// Table is an observation table kept verbatim so it can be written back with
// only the sampled columns changed.
type Table struct {
	Header       []string
	Rows         [][]string
	Observations []*domain.Observation
}

// LoadObservations reads a CSV table with a header row. Every column is kept.
// Empty coordinate cells become NaN and fail later as transform errors;
// unparsable ones are rejected here.
func LoadObservations(r io.Reader, cols Columns) (*Table, error) {
	cols = cols.withDefaults()

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	// Read header.
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	index := func(name string) (int, error) {
		for i, h := range header {
			if strings.TrimSpace(h) == name {
				return i, nil
			}
		}
		return 0, fmt.Errorf("invalid CSV header: column %q not found in %v", name, header)
	}
	keyIdx, err := index(cols.Key)
	if err != nil {
		return nil, err
	}
	latIdx, err := index(cols.Lat)
	if err != nil {
		return nil, err
	}
	lonIdx, err := index(cols.Lon)
	if err != nil {
		return nil, err
	}

	t := &Table{Header: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		row := len(t.Rows)
		lat, err := parseCoord(record[latIdx])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid %s: %w", row+1, cols.Lat, err)
		}
		lon, err := parseCoord(record[lonIdx])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid %s: %w", row+1, cols.Lon, err)
		}

		t.Rows = append(t.Rows, record)
		t.Observations = append(t.Observations,
			domain.NewObservation(row, strings.TrimSpace(record[keyIdx]), lon, lat))
	}

	return t, nil
}

func parseCoord(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
