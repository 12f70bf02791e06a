package interp

import (
	"math"
	"testing"

	"go.ngs.io/glacier-enricher/internal/domain"
)

// TestBilinearInterpolate_CenterPoint tests interpolation at the center of a grid cell
func TestBilinearInterpolate_CenterPoint(t *testing.T) {
	cell := GridCell{
		X0: 0.0, X1: 2.0,
		Y0: 0.0, Y1: 2.0,
		V00: 1.0, V10: 3.0,
		V01: 5.0, V11: 7.0,
	}

	// t=0.5, u=0.5 -> 0.25 * (1 + 3 + 5 + 7)
	result, err := BilinearInterpolate(cell, 1.0, 1.0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := 4.0
	if math.Abs(result-expected) > 1e-9 {
		t.Errorf("Center point: expected %.10f, got %.10f", expected, result)
	}
}

// TestBilinearInterpolate_Invalid tests rejected cells and points
func TestBilinearInterpolate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cell GridCell
		x, y float64
	}{
		{"degenerate x", GridCell{X0: 1, X1: 1, Y0: 0, Y1: 1}, 1, 0.5},
		{"degenerate y", GridCell{X0: 0, X1: 1, Y0: 2, Y1: 1}, 0.5, 1.5},
		{"x outside", GridCell{X0: 0, X1: 1, Y0: 0, Y1: 1}, 1.5, 0.5},
		{"y outside", GridCell{X0: 0, X1: 1, Y0: 0, Y1: 1}, 0.5, -0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BilinearInterpolate(tt.cell, tt.x, tt.y); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

// TestSampler_Bilinear tests interpolation between cell centers on a north-up grid
func TestSampler_Bilinear(t *testing.T) {
	ds := testDataset(t)
	s := Sampler{Method: Bilinear}

	// Midway between the four centers of the 2x2 grid.
	v, err := s.Sample(ds, "topo", 0.5, 0.5)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	got, ok := v.Float()
	if !ok {
		t.Fatalf("expected a present value, got %v", v.State)
	}
	if math.Abs(got-250) > 1e-9 {
		t.Errorf("expected 250, got %v", got)
	}

	// On a center the interpolation reproduces the cell value.
	v, err = s.Sample(ds, "topo", 1, 1)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if got, _ := v.Float(); math.Abs(got-200) > 1e-9 {
		t.Errorf("expected 200 at top-right center, got %v", got)
	}
}

// TestSampler_BilinearNoDataCorner tests that a missing corner poisons the interpolation
func TestSampler_BilinearNoDataCorner(t *testing.T) {
	ds := domain.NewGriddedDataset("k", "EPSG:3857", domain.GridGeometry{NX: 2, NY: 2, X0: 0, Y0: 1, DX: 1, DY: -1})
	if err := ds.AddLayer("topo", []float64{100, math.NaN(), 300, 400}, nil); err != nil {
		t.Fatal(err)
	}

	v, err := Sampler{Method: Bilinear}.Sample(ds, "topo", 0.5, 0.5)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if v.State != domain.NoData {
		t.Errorf("expected NoData, got %v", v.State)
	}
}

// TestSampler_BilinearClampFarPoints tests that clamped far-away points fall
// back to the nearest edge cell
func TestSampler_BilinearClampFarPoints(t *testing.T) {
	ds := testDataset(t)
	s := Sampler{Method: Bilinear, ClampToEdge: true}

	tests := []struct {
		name string
		x, y float64
		want float64
	}{
		{"far east", 1e20, 1, 200},
		{"far south west", -1e20, -1e20, 300},
		{"max float", math.MaxFloat64, -math.MaxFloat64, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := s.Sample(ds, "topo", tt.x, tt.y)
			if err != nil {
				t.Fatalf("Sample: %v", err)
			}
			if got, ok := v.Float(); !ok || got != tt.want {
				t.Errorf("expected %v, got %v (%v)", tt.want, got, v.State)
			}
		})
	}
}
