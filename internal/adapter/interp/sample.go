package interp

import (
	"errors"
	"fmt"
	"strings"

	"go.ngs.io/glacier-enricher/internal/domain"
)

// Method selects how a raster is sampled at a point.
type Method int

const (
	// Nearest copies the value of the closest cell center.
	Nearest Method = iota
	// Bilinear interpolates between the four surrounding cell centers.
	Bilinear
)

func (m Method) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod parses "nearest" or "bilinear"; empty means nearest.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nearest":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	default:
		return Nearest, fmt.Errorf("unknown sampling method %q (use nearest or bilinear)", s)
	}
}

// Sampler reads layer values from a dataset at projected coordinates.
type Sampler struct {
	Method      Method
	ClampToEdge bool
}

// Sample returns the value of variable at (x, y). No-data cells yield a NoData
// value, not an error.
func (s Sampler) Sample(ds *domain.GriddedDataset, variable string, x, y float64) (domain.Value, error) {
	layer, err := ds.Layer(variable)
	if err != nil {
		return domain.Value{}, err
	}

	g := ds.Geometry
	row, col, err := NearestCell(g, x, y, s.ClampToEdge)
	if err != nil {
		if errors.Is(err, ErrOutsideGrid) {
			return domain.Value{}, &domain.OutOfGridError{Key: ds.Key, X: x, Y: y}
		}
		return domain.Value{}, fmt.Errorf("dataset %s: %w", ds.Key, err)
	}

	if s.Method == Bilinear {
		v, ok, err := bilinearAt(g, layer, x, y)
		if err != nil {
			return domain.Value{}, fmt.Errorf("dataset %s: %w", ds.Key, err)
		}
		if ok {
			return v, nil
		}
	}

	v := layer.At(g, row, col)
	if layer.IsNoData(v) {
		return domain.NoDataValue(), nil
	}
	return domain.PresentValue(v), nil
}
