package gridded

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/glacier-enricher/internal/domain"
)

// FillValue marks no-data cells in written files.
const FillValue float32 = -9999

// WriteFile writes ds as an OGGM-style gridded_data.nc: x and y cell-center
// axes, one float32 (y, x) variable per layer and the CRS in the pyproj_srs
// global attribute. NaN cells are written as FillValue.
func WriteFile(path string, ds *domain.GriddedDataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	//nolint:gosec // G301: Standard data directory permissions.
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	nc, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = nc.Close() }()

	g := ds.Geometry
	yDim, err := nc.AddDim("y", uint64(g.NY))
	if err != nil {
		return err
	}
	xDim, err := nc.AddDim("x", uint64(g.NX))
	if err != nil {
		return err
	}

	xVar, err := nc.AddVar("x", netcdf.DOUBLE, []netcdf.Dim{xDim})
	if err != nil {
		return err
	}
	yVar, err := nc.AddVar("y", netcdf.DOUBLE, []netcdf.Dim{yDim})
	if err != nil {
		return err
	}

	names := ds.LayerNames()
	vars := make([]netcdf.Var, len(names))
	for i, name := range names {
		v, err := nc.AddVar(name, netcdf.FLOAT, []netcdf.Dim{yDim, xDim})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
		if err := v.Attr("_FillValue").WriteFloat32s([]float32{FillValue}); err != nil {
			return fmt.Errorf("failed to set _FillValue on %s: %w", name, err)
		}
		vars[i] = v
	}

	if err := nc.Attr("pyproj_srs").WriteBytes([]byte(ds.CRS)); err != nil {
		return fmt.Errorf("failed to write CRS: %w", err)
	}
	if err := nc.EndDef(); err != nil {
		return fmt.Errorf("enddef: %w", err)
	}

	xs := make([]float64, g.NX)
	for c := range xs {
		xs[c], _ = g.Center(0, c)
	}
	ys := make([]float64, g.NY)
	for r := range ys {
		_, ys[r] = g.Center(r, 0)
	}
	if err := xVar.WriteFloat64s(xs); err != nil {
		return fmt.Errorf("write x: %w", err)
	}
	if err := yVar.WriteFloat64s(ys); err != nil {
		return fmt.Errorf("write y: %w", err)
	}

	for i, name := range names {
		l := ds.Layers[name]
		buf := make([]float32, len(l.Values))
		for j, val := range l.Values {
			if l.IsNoData(val) {
				buf[j] = FillValue
				continue
			}
			buf[j] = float32(val)
		}
		if err := vars[i].WriteFloat32s(buf); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
