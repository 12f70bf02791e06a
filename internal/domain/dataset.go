package domain

import (
	"fmt"
	"math"
	"sort"
)

// GridGeometry maps grid indices to projected cell-center coordinates:
//
//	x = X0 + col*DX
//	y = Y0 + row*DY
//
// DY is negative for the usual north-up rasters.
type GridGeometry struct {
	NX, NY int
	X0, Y0 float64
	DX, DY float64
}

// Validate checks the geometry is usable for index arithmetic.
func (g GridGeometry) Validate() error {
	if g.NX < 1 || g.NY < 1 {
		return fmt.Errorf("grid must have at least one cell, got %dx%d", g.NY, g.NX)
	}
	if g.DX == 0 || g.DY == 0 || math.IsNaN(g.DX) || math.IsNaN(g.DY) {
		return fmt.Errorf("grid spacing must be non-zero, got dx=%v dy=%v", g.DX, g.DY)
	}
	return nil
}

// Center returns the projected coordinate of a cell center.
func (g GridGeometry) Center(row, col int) (x, y float64) {
	return g.X0 + float64(col)*g.DX, g.Y0 + float64(row)*g.DY
}

// Layer is one raster variable stored row-major.
type Layer struct {
	Name      string
	Values    []float64
	FillValue *float64 // Optional sentinel treated as no data.
}

// IsNoData reports whether v marks a missing cell in this layer.
func (l *Layer) IsNoData(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return true
	}
	return l.FillValue != nil && v == *l.FillValue
}

// GriddedDataset is a set of raster layers over one projected grid.
type GriddedDataset struct {
	Key      string
	CRS      string // Proj4 string or EPSG alias.
	Geometry GridGeometry
	Layers   map[string]*Layer
}

// NewGriddedDataset creates an empty dataset for key.
func NewGriddedDataset(key, crs string, g GridGeometry) *GriddedDataset {
	return &GriddedDataset{
		Key:      key,
		CRS:      crs,
		Geometry: g,
		Layers:   make(map[string]*Layer),
	}
}

// AddLayer stores a layer after checking its size against the geometry.
func (d *GriddedDataset) AddLayer(name string, values []float64, fill *float64) error {
	if want := d.Geometry.NX * d.Geometry.NY; len(values) != want {
		return fmt.Errorf("layer %s has %d values, expected %d", name, len(values), want)
	}
	if d.Layers == nil {
		d.Layers = make(map[string]*Layer)
	}
	d.Layers[name] = &Layer{Name: name, Values: values, FillValue: fill}
	return nil
}

// Layer returns the named layer or a MissingVariableError.
func (d *GriddedDataset) Layer(name string) (*Layer, error) {
	l, ok := d.Layers[name]
	if !ok {
		return nil, &MissingVariableError{Key: d.Key, Variable: name}
	}
	return l, nil
}

// At returns the raw value of a layer at (row, col).
func (l *Layer) At(g GridGeometry, row, col int) float64 {
	return l.Values[row*g.NX+col]
}

// LayerNames returns the sorted layer names.
func (d *GriddedDataset) LayerNames() []string {
	names := make([]string, 0, len(d.Layers))
	for n := range d.Layers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks geometry and layer sizes.
func (d *GriddedDataset) Validate() error {
	if err := d.Geometry.Validate(); err != nil {
		return fmt.Errorf("dataset %s: %w", d.Key, err)
	}
	want := d.Geometry.NX * d.Geometry.NY
	for name, l := range d.Layers {
		if len(l.Values) != want {
			return fmt.Errorf("dataset %s: layer %s has %d values, expected %d", d.Key, name, len(l.Values), want)
		}
	}
	return nil
}
