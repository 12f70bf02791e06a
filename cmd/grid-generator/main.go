// Package main generates synthetic OGGM-style gridded datasets around the
// glaciers of an observation table, for local testing and demos.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"

	"go.ngs.io/glacier-enricher/internal/adapter/projection"
	"go.ngs.io/glacier-enricher/internal/adapter/store"
	"go.ngs.io/glacier-enricher/internal/adapter/store/csv"
	"go.ngs.io/glacier-enricher/internal/adapter/store/gridded"
	"go.ngs.io/glacier-enricher/internal/adapter/store/snapshot"
	"go.ngs.io/glacier-enricher/internal/domain"
)

// GlacierGrid defines the extent and resolution of one generated grid.
type GlacierGrid struct {
	Key       string
	CenterLon float64
	CenterLat float64
	Cells     int     // cells per side
	Spacing   float64 // meters
}

func main() {
	// Command line flags
	csvPath := flag.String("csv", "./data/points.csv", "Observation CSV; one grid is generated per glacier key")
	outDir := flag.String("out", "./data", "Dataset root for the per_glacier tree")
	snapshotDir := flag.String("snapshot-dir", "", "Also write msgpack+zstd snapshots here")
	cells := flag.Int("cells", 101, "Grid cells per side")
	spacing := flag.Float64("spacing", 50, "Cell spacing in meters")
	summit := flag.Float64("summit", 3500, "Elevation of the synthetic summit in meters")
	flag.Parse()

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("Failed to open CSV: %v", err)
	}
	table, err := csv.LoadObservations(f, csv.DefaultColumns())
	_ = f.Close()
	if err != nil {
		log.Fatalf("Failed to read CSV: %v", err)
	}

	grids := glacierGrids(table.Observations, *cells, *spacing)
	log.Printf("Loaded %d observations for %d glaciers from %s", len(table.Observations), len(grids), *csvPath)

	var snaps *snapshot.Store
	if *snapshotDir != "" {
		snaps = snapshot.New(*snapshotDir, nil, nil)
	}

	for _, g := range grids {
		ds, err := generate(g, *summit)
		if err != nil {
			log.Printf("Warning: Failed to generate %s: %v", g.Key, err)
			continue
		}
		path := filepath.Join(*outDir, store.RelativePath(g.Key))
		if err := gridded.WriteFile(path, ds); err != nil {
			log.Printf("Warning: Failed to write %s: %v", path, err)
			continue
		}
		if snaps != nil {
			if err := snaps.Put(ds); err != nil {
				log.Printf("Warning: Failed to snapshot %s: %v", g.Key, err)
			}
		}
		log.Printf("✓ Generated %s (%s)", path, ds.CRS)
	}

	// Print summary
	log.Printf("=== Generation Complete ===")
	log.Printf("Files created in: %s", *outDir)
	log.Printf("Grid size: %d × %d cells at %.0f m", *cells, *cells, *spacing)
	bytesPerFile := *cells * *cells * 4 * 5 // five float32 layers
	totalMB := float64(bytesPerFile*len(grids)) / 1024 / 1024
	log.Printf("Total size: ~%.1f MB (%d glaciers)", totalMB, len(grids))
}

// glacierGrids centers one grid on the mean position of each key's points.
func glacierGrids(obs []*domain.Observation, cells int, spacing float64) []GlacierGrid {
	type acc struct {
		lon, lat float64
		n        int
	}
	sums := make(map[string]*acc)
	for _, o := range obs {
		if math.IsNaN(o.Lon) || math.IsNaN(o.Lat) {
			continue
		}
		a, ok := sums[o.Key]
		if !ok {
			a = &acc{}
			sums[o.Key] = a
		}
		a.lon += o.Lon
		a.lat += o.Lat
		a.n++
	}

	grids := make([]GlacierGrid, 0, len(sums))
	for key, a := range sums {
		grids = append(grids, GlacierGrid{
			Key:       key,
			CenterLon: a.lon / float64(a.n),
			CenterLat: a.lat / float64(a.n),
			Cells:     cells,
			Spacing:   spacing,
		})
	}
	sort.Slice(grids, func(i, j int) bool { return grids[i].Key < grids[j].Key })
	return grids
}

// generate builds a transverse-Mercator grid centered on the glacier with a
// conical synthetic surface. Cells beyond the cone's footprint are no-data.
func generate(g GlacierGrid, summit float64) (*domain.GriddedDataset, error) {
	crs := fmt.Sprintf("+proj=tmerc +lat_0=0 +lon_0=%.6f +k=0.9996 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs", g.CenterLon)
	t, err := projection.New(projection.WGS84, crs)
	if err != nil {
		return nil, err
	}
	cx, cy, err := t(g.CenterLon, g.CenterLat)
	if err != nil {
		return nil, err
	}

	half := float64(g.Cells-1) / 2
	geom := domain.GridGeometry{
		NX: g.Cells,
		NY: g.Cells,
		X0: cx - half*g.Spacing,
		Y0: cy + half*g.Spacing,
		DX: g.Spacing,
		DY: -g.Spacing,
	}

	n := g.Cells * g.Cells
	topo := make([]float64, n)
	slope := make([]float64, n)
	aspect := make([]float64, n)
	border := make([]float64, n)
	mask := make([]float64, n)

	radius := half * g.Spacing
	gradient := summit / 2 / radius // the cone drops to half the summit at the edge
	for r := 0; r < g.Cells; r++ {
		for c := 0; c < g.Cells; c++ {
			idx := r*g.Cells + c
			x, y := geom.Center(r, c)
			dx, dy := x-cx, y-cy
			dist := math.Hypot(dx, dy)

			if dist > radius {
				topo[idx] = math.NaN()
				slope[idx] = math.NaN()
				aspect[idx] = math.NaN()
				border[idx] = math.NaN()
				continue
			}

			topo[idx] = summit - gradient*dist + 20*math.Sin(dx/300)*math.Cos(dy/400)
			slope[idx] = math.Atan(gradient) * 180 / math.Pi
			// Downslope direction, clockwise from north.
			aspect[idx] = math.Mod(math.Atan2(dx, dy)*180/math.Pi+360, 360)
			border[idx] = radius - dist
			if dist <= radius*0.8 {
				mask[idx] = 1
			}
		}
	}

	ds := domain.NewGriddedDataset(g.Key, crs, geom)
	layers := []struct {
		name   string
		values []float64
	}{
		{"topo", topo},
		{"slope", slope},
		{"aspect", aspect},
		{"dis_from_border", border},
		{"glacier_mask", mask},
	}
	for _, l := range layers {
		if err := ds.AddLayer(l.name, l.values, nil); err != nil {
			return nil, err
		}
	}
	return ds, nil
}
