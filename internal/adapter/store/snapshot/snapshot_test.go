package snapshot

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"go.ngs.io/glacier-enricher/internal/adapter/store/memory"
	"go.ngs.io/glacier-enricher/internal/domain"
)

func testDataset(t *testing.T, key string) *domain.GriddedDataset {
	t.Helper()
	fill := -9999.0
	ds := domain.NewGriddedDataset(key, "EPSG:32632", domain.GridGeometry{NX: 2, NY: 2, X0: 500000, Y0: 5100000, DX: 25, DY: -25})
	if err := ds.AddLayer("topo", []float64{2500, 2510, math.NaN(), 2530}, nil); err != nil {
		t.Fatal(err)
	}
	if err := ds.AddLayer("slope", []float64{-9999, 12, 14, 16}, &fill); err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestSaveLoad(t *testing.T) {
	src := testDataset(t, "RGI60-11.00897")
	var buf bytes.Buffer
	if err := Save(&buf, src); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Key != src.Key || got.CRS != src.CRS || got.Geometry != src.Geometry {
		t.Errorf("header mismatch: %+v vs %+v", got, src)
	}
	topo, _ := got.Layer("topo")
	if !math.IsNaN(topo.Values[2]) || topo.Values[3] != 2530 {
		t.Errorf("topo values not preserved: %v", topo.Values)
	}
	slope, _ := got.Layer("slope")
	if slope.FillValue == nil || *slope.FillValue != -9999 {
		t.Errorf("fill value not preserved: %v", slope.FillValue)
	}
}

// countingLookup records how often the wrapped lookup is hit.
type countingLookup struct {
	*memory.Store
	calls int
}

func (c *countingLookup) Lookup(key string) (*domain.GriddedDataset, error) {
	c.calls++
	return c.Store.Lookup(key)
}

func TestStore_ServesSnapshots(t *testing.T) {
	mem, err := memory.New(testDataset(t, "RGI60-11.00897"))
	if err != nil {
		t.Fatal(err)
	}
	inner := &countingLookup{Store: mem}
	dir := filepath.Join(t.TempDir(), "snapshots")
	s := New(dir, inner, nil)

	if _, err := s.Lookup("RGI60-11.00897"); err != nil {
		t.Fatalf("first Lookup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "RGI60-11.00897"+Ext)); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	// A fresh decorator over the same directory reads the snapshot.
	inner.calls = 0
	ds, err := New(dir, inner, nil).Lookup("RGI60-11.00897")
	if err != nil {
		t.Fatalf("second Lookup: %v", err)
	}
	if inner.calls != 0 {
		t.Errorf("expected snapshot hit, inner lookup called %d times", inner.calls)
	}
	if ds.Geometry.NX != 2 {
		t.Errorf("unexpected geometry %+v", ds.Geometry)
	}

	_, err = s.Lookup("RGI60-11.00001")
	if !errors.Is(err, domain.ErrDatasetNotFound) {
		t.Errorf("expected ErrDatasetNotFound, got %v", err)
	}
}

func TestStore_Keys(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "RGI60-01.00570"+Ext))
	if err != nil {
		t.Fatal(err)
	}
	if err := Save(f, testDataset(t, "RGI60-01.00570")); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	mem, _ := memory.New(testDataset(t, "RGI60-11.00897"))
	keys, err := New(dir, mem, nil).Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "RGI60-01.00570" || keys[1] != "RGI60-11.00897" {
		t.Errorf("unexpected keys %v", keys)
	}
}

// TestStore_RejectsUnsafeKeys tests that keys cannot place snapshots outside
// the snapshot directory.
func TestStore_RejectsUnsafeKeys(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "snapshots")

	mem, err := memory.New(testDataset(t, "../escaped"))
	if err != nil {
		t.Fatal(err)
	}
	s := New(dir, mem, nil)

	for _, key := range []string{"../escaped", "", "a/b", `a\b`} {
		t.Run(key, func(t *testing.T) {
			if _, err := s.Lookup(key); !errors.Is(err, domain.ErrDatasetNotFound) {
				t.Errorf("expected ErrDatasetNotFound, got %v", err)
			}
		})
	}
	if err := s.Put(testDataset(t, "../escaped")); err == nil {
		t.Error("expected Put to reject the key")
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "snapshots" {
			t.Errorf("unexpected file outside the snapshot directory: %s", e.Name())
		}
	}
}
