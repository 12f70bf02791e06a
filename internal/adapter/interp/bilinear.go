package interp

import (
	"fmt"
	"math"

	"go.ngs.io/glacier-enricher/internal/domain"
)

// GridCell represents a cell in a regular grid with four corner values.
type GridCell struct {
	// Corner coordinates (forming a rectangle).
	X0, X1 float64 // X boundaries.
	Y0, Y1 float64 // Y boundaries.

	// Values at the four corners:
	// V00: value at (X0, Y0).
	// V10: value at (X1, Y0).
	// V01: value at (X0, Y1).
	// V11: value at (X1, Y1).
	V00, V10, V01, V11 float64
}

// BilinearInterpolate performs bilinear interpolation within a grid cell
// Formula:
//
//	f(x,y) ≈ (1-t)(1-u)f(x0,y0) + t(1-u)f(x1,y0) + (1-t)u*f(x0,y1) + tu*f(x1,y1)
//
// where:
//
//	t = (x - x0) / (x1 - x0)
//	u = (y - y0) / (y1 - y0)
func BilinearInterpolate(cell GridCell, x, y float64) (float64, error) {
	// Validate grid cell.
	if cell.X1 <= cell.X0 {
		return 0, fmt.Errorf("invalid grid cell: X1 must be > X0")
	}
	if cell.Y1 <= cell.Y0 {
		return 0, fmt.Errorf("invalid grid cell: Y1 must be > Y0")
	}

	// Check if point is within cell (with small tolerance for floating point).
	const epsilon = 1e-9
	if x < cell.X0-epsilon || x > cell.X1+epsilon {
		return 0, fmt.Errorf("x coordinate %.6f is outside grid cell [%.6f, %.6f]", x, cell.X0, cell.X1)
	}
	if y < cell.Y0-epsilon || y > cell.Y1+epsilon {
		return 0, fmt.Errorf("y coordinate %.6f is outside grid cell [%.6f, %.6f]", y, cell.Y0, cell.Y1)
	}

	// Calculate normalized coordinates (0 to 1).
	t := (x - cell.X0) / (cell.X1 - cell.X0)
	u := (y - cell.Y0) / (cell.Y1 - cell.Y0)

	// Clamp to [0, 1] to handle edge cases with floating point precision.
	t = math.Max(0, math.Min(1, t))
	u = math.Max(0, math.Min(1, u))

	result := (1-t)*(1-u)*cell.V00 +
		t*(1-u)*cell.V10 +
		(1-t)*u*cell.V01 +
		t*u*cell.V11

	return result, nil
}

// bilinearAt interpolates a layer between the four cell centers surrounding
// (x, y). ok is false when the point has no full cell of neighbours, in which
// case the caller falls back to nearest sampling.
func bilinearAt(g domain.GridGeometry, l *domain.Layer, x, y float64) (v domain.Value, ok bool, err error) {
	fc := (x - g.X0) / g.DX
	fr := (y - g.Y0) / g.DY
	// Range-check in float space; int conversion of a huge index is undefined.
	if !(fc >= 0 && fr >= 0 && fc < float64(g.NX-1) && fr < float64(g.NY-1)) {
		return domain.Value{}, false, nil
	}
	c0 := int(math.Floor(fc))
	r0 := int(math.Floor(fr))

	cell := GridCell{
		X0: 0, X1: 1,
		Y0: 0, Y1: 1,
		V00: l.At(g, r0, c0),
		V10: l.At(g, r0, c0+1),
		V01: l.At(g, r0+1, c0),
		V11: l.At(g, r0+1, c0+1),
	}
	for _, corner := range []float64{cell.V00, cell.V10, cell.V01, cell.V11} {
		if l.IsNoData(corner) {
			return domain.NoDataValue(), true, nil
		}
	}

	res, err := BilinearInterpolate(cell, fc-float64(c0), fr-float64(r0))
	if err != nil {
		return domain.Value{}, false, err
	}
	return domain.PresentValue(res), true, nil
}
