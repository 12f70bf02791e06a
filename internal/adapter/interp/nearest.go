// Package interp locates and samples raster cells on regular projected grids.
package interp

import (
	"errors"
	"fmt"
	"math"

	"go.ngs.io/glacier-enricher/internal/domain"
)

// ErrOutsideGrid is returned for points more than half a cell beyond the
// outermost cell centers.
var ErrOutsideGrid = errors.New("point outside grid")

// roundHalfDown rounds to the nearest integer, sending exact halves to the
// smaller integer.
func roundHalfDown(f float64) int {
	return int(math.Ceil(f - 0.5))
}

// nearestIndex maps a fractional index onto [0, n).
func nearestIndex(f float64, n int, clamp bool) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid fractional index %v", f)
	}
	if !clamp && (f < -0.5 || f > float64(n)-0.5) {
		return 0, ErrOutsideGrid
	}
	// Clamp before rounding; int conversion of a huge f is undefined.
	f = math.Max(-0.5, math.Min(f, float64(n)-0.5))
	i := roundHalfDown(f)
	if i < 0 {
		i = 0
	}
	if i > n-1 {
		i = n - 1
	}
	return i, nil
}

// NearestCell returns the row and column whose cell center is closest to the
// projected point (x, y). The index is computed in closed form by inverting
// the affine geometry; no search is performed.
//
// A point exactly half way between two centers resolves to the smaller index
// along that axis, so ties always pick the smallest row-major index.
func NearestCell(g domain.GridGeometry, x, y float64, clamp bool) (row, col int, err error) {
	if err := g.Validate(); err != nil {
		return 0, 0, err
	}
	col, err = nearestIndex((x-g.X0)/g.DX, g.NX, clamp)
	if err != nil {
		return 0, 0, err
	}
	row, err = nearestIndex((y-g.Y0)/g.DY, g.NY, clamp)
	if err != nil {
		return 0, 0, err
	}
	return row, col, nil
}
