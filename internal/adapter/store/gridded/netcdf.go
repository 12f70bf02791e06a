// Package gridded reads and writes OGGM gridded_data.nc files with the
// NetCDF C library.
package gridded

import (
	"fmt"
	"math"
	"strings"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/glacier-enricher/internal/adapter/interp"
	"go.ngs.io/glacier-enricher/internal/adapter/store"
	"go.ngs.io/glacier-enricher/internal/domain"
)

// DefaultLayers are the OGGM gridded_data.nc variables loaded when no
// explicit list is configured.
var DefaultLayers = []string{
	"topo",
	"topo_smoothed",
	"topo_valid_mask",
	"slope",
	"aspect",
	"slope_factor",
	"dis_from_border",
	"glacier_mask",
	"glacier_ext",
	"consensus_ice_thickness",
	"millan_ice_thickness",
	"millan_v",
	"itslive_v",
}

// Options defines the expected NetCDF file structure.
type Options struct {
	XVarName   string   // E.g., "x".
	YVarName   string   // E.g., "y".
	CRSAttr    string   // Global attribute holding the CRS, e.g. "pyproj_srs".
	DefaultCRS string   // Used when CRSAttr is absent.
	Layers     []string // 2-D variables to load; missing ones are skipped.
}

// DefaultOptions returns the OGGM file configuration.
func DefaultOptions() Options {
	return Options{
		XVarName: "x",
		YVarName: "y",
		CRSAttr:  "pyproj_srs",
		Layers:   DefaultLayers,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.XVarName == "" {
		o.XVarName = def.XVarName
	}
	if o.YVarName == "" {
		o.YVarName = def.YVarName
	}
	if o.CRSAttr == "" {
		o.CRSAttr = def.CRSAttr
	}
	if len(o.Layers) == 0 {
		o.Layers = def.Layers
	}
	return o
}

// NewStore creates a lookup over glacier directories under root.
func NewStore(root string, opts Options) *store.FileStore {
	opts = opts.withDefaults()
	return store.NewFileStore(root, func(path, key string) (*domain.GriddedDataset, error) {
		return ReadFile(path, key, opts)
	})
}

// ReadFile loads a gridded dataset from a NetCDF file.
func ReadFile(path, key string, opts Options) (*domain.GriddedDataset, error) {
	opts = opts.withDefaults()

	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file: %w", err)
	}
	defer func() { _ = nc.Close() }()

	xv, err := nc.Var(opts.XVarName)
	if err != nil {
		return nil, fmt.Errorf("x variable %q not found: %w", opts.XVarName, err)
	}
	xs, err := readFloat64Var(xv)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", opts.XVarName, err)
	}
	yv, err := nc.Var(opts.YVarName)
	if err != nil {
		return nil, fmt.Errorf("y variable %q not found: %w", opts.YVarName, err)
	}
	ys, err := readFloat64Var(yv)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", opts.YVarName, err)
	}

	g, err := interp.GeometryFromAxes(xs, ys)
	if err != nil {
		return nil, err
	}

	crs := opts.DefaultCRS
	if s, ok := readTextAttr(nc.Attr(opts.CRSAttr)); ok {
		crs = strings.TrimSpace(s)
	}
	if crs == "" {
		return nil, fmt.Errorf("no CRS: global attribute %q missing", opts.CRSAttr)
	}

	ds := domain.NewGriddedDataset(key, crs, g)
	for _, name := range opts.Layers {
		v, err := nc.Var(name)
		if err != nil {
			continue
		}
		values, err := readLayer(v, g.NY, g.NX, opts.XVarName, opts.YVarName)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := ds.AddLayer(name, values, nil); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// readFloat64Var reads a 1D coordinate variable as float64.
func readFloat64Var(v netcdf.Var) ([]float64, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	if len(dims) != 1 {
		return nil, fmt.Errorf("expected 1D variable, got %dD", len(dims))
	}

	length, err := dims[0].Len()
	if err != nil {
		return nil, err
	}

	return readFlat(v, int(length))
}

// readLayer reads a (y, x) variable row-major, accepting the transposed
// (x, y) order as well. Dimension names decide the order; lengths are the
// fallback for unnamed axes. Fill values become NaN and
// scale_factor/add_offset are applied.
func readLayer(v netcdf.Var, nRows, nCols int, xName, yName string) ([]float64, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("expected 2D data, got %dD", len(dims))
	}
	dim0Len, err := dims[0].Len()
	if err != nil {
		return nil, fmt.Errorf("failed to get dim0 length: %w", err)
	}
	dim1Len, err := dims[1].Len()
	if err != nil {
		return nil, fmt.Errorf("failed to get dim1 length: %w", err)
	}

	dim0Name, _ := dims[0].Name()
	dim1Name, _ := dims[1].Name()

	var transposed bool
	switch {
	case dim0Name == yName && dim1Name == xName:
	case dim0Name == xName && dim1Name == yName:
		transposed = true
	case dim0Len == uint64(nRows) && dim1Len == uint64(nCols):
	case dim0Len == uint64(nCols) && dim1Len == uint64(nRows):
		transposed = true
	}
	if transposed {
		dim0Len, dim1Len = dim1Len, dim0Len
	}
	if dim0Len != uint64(nRows) || dim1Len != uint64(nCols) {
		return nil, fmt.Errorf("dimension mismatch: data is [%d, %d], expected [%d, %d]", dim0Len, dim1Len, nRows, nCols)
	}

	flat, err := readFlat(v, nRows*nCols)
	if err != nil {
		return nil, err
	}

	fill, hasFill := getFillValue(v)
	scale, offset := getScaleOffset(v)
	for i, val := range flat {
		if hasFill && val == fill {
			flat[i] = math.NaN()
			continue
		}
		flat[i] = val*scale + offset
	}

	if transposed {
		return transpose(flat, nCols, nRows), nil
	}
	return flat, nil
}

// readFlat reads a whole variable as float64.
// Supports float64, float32, int32, int16 and int8 types.
func readFlat(v netcdf.Var, n int) ([]float64, error) {
	varType, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get variable type: %w", err)
	}

	out := make([]float64, n)
	switch varType {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64s(out); err != nil {
			return nil, fmt.Errorf("failed to read float64: %w", err)
		}
	case netcdf.FLOAT:
		buf := make([]float32, n)
		if err := v.ReadFloat32s(buf); err != nil {
			return nil, fmt.Errorf("failed to read float32: %w", err)
		}
		for i, val := range buf {
			out[i] = float64(val)
		}
	case netcdf.INT:
		buf := make([]int32, n)
		if err := v.ReadInt32s(buf); err != nil {
			return nil, fmt.Errorf("failed to read int32: %w", err)
		}
		for i, val := range buf {
			out[i] = float64(val)
		}
	case netcdf.SHORT:
		buf := make([]int16, n)
		if err := v.ReadInt16s(buf); err != nil {
			return nil, fmt.Errorf("failed to read int16: %w", err)
		}
		for i, val := range buf {
			out[i] = float64(val)
		}
	case netcdf.BYTE:
		// glacier_mask and glacier_ext are stored as bytes.
		buf := make([]int8, n)
		if err := v.ReadInt8s(buf); err != nil {
			return nil, fmt.Errorf("failed to read int8: %w", err)
		}
		for i, val := range buf {
			out[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("unsupported data type: %v (expected DOUBLE, FLOAT, INT, SHORT or BYTE)", varType)
	}
	return out, nil
}

// transpose converts a row-major [rows][cols] array to [cols][rows].
func transpose(flat []float64, rows, cols int) []float64 {
	out := make([]float64, len(flat))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[c*rows+r] = flat[r*cols+c]
		}
	}
	return out
}

// getFillValue reads _FillValue or missing_value.
func getFillValue(v netcdf.Var) (float64, bool) {
	for _, name := range []string{"_FillValue", "missing_value"} {
		if val, ok := readNumberAttr(v.Attr(name)); ok {
			return val, true
		}
	}
	return 0, false
}

// getScaleOffset returns scale_factor and add_offset, defaulting to 1 and 0.
func getScaleOffset(v netcdf.Var) (scale, offset float64) {
	scale, offset = 1, 0
	if s, ok := readNumberAttr(v.Attr("scale_factor")); ok && s != 0 {
		scale = s
	}
	if o, ok := readNumberAttr(v.Attr("add_offset")); ok {
		offset = o
	}
	return scale, offset
}

func readNumberAttr(a netcdf.Attr) (float64, bool) {
	if n, err := a.Len(); err != nil || n == 0 {
		return 0, false
	}
	// Try float64
	buf64 := make([]float64, 1)
	if err := a.ReadFloat64s(buf64); err == nil {
		return buf64[0], true
	}
	// Try float32
	buf32 := make([]float32, 1)
	if err := a.ReadFloat32s(buf32); err == nil {
		return float64(buf32[0]), true
	}
	// Try int32
	bufi := make([]int32, 1)
	if err := a.ReadInt32s(bufi); err == nil {
		return float64(bufi[0]), true
	}
	// Try int16, the usual type of packed layers.
	bufs := make([]int16, 1)
	if err := a.ReadInt16s(bufs); err == nil {
		return float64(bufs[0]), true
	}
	bufb := make([]int8, 1)
	if err := a.ReadInt8s(bufb); err == nil {
		return float64(bufb[0]), true
	}
	return 0, false
}

func readTextAttr(a netcdf.Attr) (string, bool) {
	n, err := a.Len()
	if err != nil || n == 0 {
		return "", false
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return "", false
	}
	return strings.TrimRight(string(buf), "\x00"), true
}
