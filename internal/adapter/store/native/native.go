// Package native reads OGGM gridded_data.nc files with a pure-Go NetCDF
// decoder, for builds without the NetCDF C library.
package native

import (
	"fmt"
	"math"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"go.ngs.io/glacier-enricher/internal/adapter/interp"
	"go.ngs.io/glacier-enricher/internal/adapter/store"
	"go.ngs.io/glacier-enricher/internal/adapter/store/gridded"
	"go.ngs.io/glacier-enricher/internal/domain"
)

// NewStore creates a lookup over glacier directories under root.
func NewStore(root string, opts gridded.Options) *store.FileStore {
	return store.NewFileStore(root, func(path, key string) (*domain.GriddedDataset, error) {
		return ReadFile(path, key, opts)
	})
}

// ReadFile loads a gridded dataset. Every 2-D variable on the (y, x)
// dimensions is loaded unless opts.Layers restricts the set.
func ReadFile(path, key string, opts gridded.Options) (*domain.GriddedDataset, error) {
	def := gridded.DefaultOptions()
	if opts.XVarName == "" {
		opts.XVarName = def.XVarName
	}
	if opts.YVarName == "" {
		opts.YVarName = def.YVarName
	}
	if opts.CRSAttr == "" {
		opts.CRSAttr = def.CRSAttr
	}

	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file: %w", err)
	}
	defer nc.Close()

	xs, err := axisValues(nc, opts.XVarName)
	if err != nil {
		return nil, err
	}
	ys, err := axisValues(nc, opts.YVarName)
	if err != nil {
		return nil, err
	}
	g, err := interp.GeometryFromAxes(xs, ys)
	if err != nil {
		return nil, err
	}

	crs := opts.DefaultCRS
	if v, ok := nc.Attributes().Get(opts.CRSAttr); ok {
		if s, ok := v.(string); ok {
			crs = strings.TrimSpace(s)
		}
	}
	if crs == "" {
		return nil, fmt.Errorf("no CRS: global attribute %q missing", opts.CRSAttr)
	}

	names := opts.Layers
	if len(names) == 0 {
		names = nc.ListVariables()
	}

	ds := domain.NewGriddedDataset(key, crs, g)
	for _, name := range names {
		if name == opts.XVarName || name == opts.YVarName {
			continue
		}
		v, err := nc.GetVariable(name)
		if err != nil || len(v.Dimensions) != 2 {
			continue
		}
		values, err := layerValues(v, opts, g)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := ds.AddLayer(name, values, nil); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func axisValues(nc api.Group, name string) ([]float64, error) {
	v, err := nc.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%s variable not found: %w", name, err)
	}
	vals, ok := flatten(v.Values)
	if !ok {
		return nil, fmt.Errorf("%s variable has unsupported type %T", name, v.Values)
	}
	return vals, nil
}

// layerValues returns a (y, x) variable row-major, transposing (x, y) data.
// Fill values become NaN and scale_factor/add_offset are applied.
func layerValues(v *api.Variable, opts gridded.Options, g domain.GridGeometry) ([]float64, error) {
	flat, ok := flatten(v.Values)
	if !ok {
		return nil, fmt.Errorf("unsupported type %T", v.Values)
	}
	if len(flat) != g.NX*g.NY {
		return nil, fmt.Errorf("has %d values, expected %d", len(flat), g.NX*g.NY)
	}

	fill, hasFill := numberAttr(v.Attributes, "_FillValue")
	if !hasFill {
		fill, hasFill = numberAttr(v.Attributes, "missing_value")
	}
	scale, ok := numberAttr(v.Attributes, "scale_factor")
	if !ok || scale == 0 {
		scale = 1
	}
	offset, _ := numberAttr(v.Attributes, "add_offset")

	for i, val := range flat {
		if hasFill && val == fill {
			flat[i] = math.NaN()
			continue
		}
		flat[i] = val*scale + offset
	}

	if v.Dimensions[0] == opts.XVarName && v.Dimensions[1] == opts.YVarName {
		out := make([]float64, len(flat))
		for c := 0; c < g.NX; c++ {
			for r := 0; r < g.NY; r++ {
				out[r*g.NX+c] = flat[c*g.NY+r]
			}
		}
		return out, nil
	}
	return flat, nil
}

func numberAttr(attrs api.AttributeMap, name string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	v, ok := attrs.Get(name)
	if !ok {
		return 0, false
	}
	vals, ok := flatten(v)
	if !ok || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

// flatten converts the decoder's scalar, 1-D and 2-D numeric values to a
// row-major float64 slice.
func flatten(v any) ([]float64, bool) {
	switch t := v.(type) {
	case float64:
		return []float64{t}, true
	case float32:
		return []float64{float64(t)}, true
	case int32:
		return []float64{float64(t)}, true
	case int16:
		return []float64{float64(t)}, true
	case int8:
		return []float64{float64(t)}, true
	case []float64:
		return append([]float64(nil), t...), true
	case []float32:
		return convert(t), true
	case []int32:
		return convert(t), true
	case []int16:
		return convert(t), true
	case []int8:
		return convert(t), true
	case [][]float64:
		return flatten2D(t), true
	case [][]float32:
		return flatten2D(t), true
	case [][]int32:
		return flatten2D(t), true
	case [][]int16:
		return flatten2D(t), true
	case [][]int8:
		return flatten2D(t), true
	}
	return nil, false
}

type number interface {
	~float64 | ~float32 | ~int32 | ~int16 | ~int8
}

func convert[T number](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func flatten2D[T number](in [][]T) []float64 {
	var out []float64
	for _, row := range in {
		out = append(out, convert(row)...)
	}
	return out
}
