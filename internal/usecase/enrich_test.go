package usecase

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"go.ngs.io/glacier-enricher/internal/adapter/interp"
	"go.ngs.io/glacier-enricher/internal/adapter/store/memory"
	"go.ngs.io/glacier-enricher/internal/domain"
)

// geoDataset is a 2x2 grid in geographic coordinates so that projected
// coordinates equal (lon, lat): centers at lon {0,1}, lat {1,0}.
func geoDataset(t *testing.T, key string) *domain.GriddedDataset {
	t.Helper()
	ds := domain.NewGriddedDataset(key, "EPSG:4326", domain.GridGeometry{NX: 2, NY: 2, X0: 0, Y0: 1, DX: 1, DY: -1})
	if err := ds.AddLayer("topo", []float64{100, 200, 300, 400}, nil); err != nil {
		t.Fatal(err)
	}
	if err := ds.AddLayer("slope", []float64{10, math.NaN(), 30, 40}, nil); err != nil {
		t.Fatal(err)
	}
	return ds
}

// mercatorDataset is a 3x3 grid of 100 m cells centered on (0, 0) in EPSG:3857.
func mercatorDataset(t *testing.T, key string) *domain.GriddedDataset {
	t.Helper()
	ds := domain.NewGriddedDataset(key, "EPSG:3857", domain.GridGeometry{NX: 3, NY: 3, X0: -100, Y0: 100, DX: 100, DY: -100})
	if err := ds.AddLayer("topo", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, nil); err != nil {
		t.Fatal(err)
	}
	return ds
}

func newTestEnricher(t *testing.T, cfg EnrichConfig, datasets ...*domain.GriddedDataset) *Enricher {
	t.Helper()
	lookup, err := memory.New(datasets...)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	e, err := NewEnricher(cfg, lookup, nil, nil)
	if err != nil {
		t.Fatalf("NewEnricher: %v", err)
	}
	return e
}

func testObservations() []*domain.Observation {
	return []*domain.Observation{
		domain.NewObservation(0, "k1", 0.9, 0.9),         // top-right cell
		domain.NewObservation(1, "missing", 0.1, 0.1),    // no dataset
		domain.NewObservation(2, "k1", 0, 0),             // bottom-left center
		domain.NewObservation(3, "k1", 10, 10),           // outside the grid
		domain.NewObservation(4, "merc", 0, 0),           // center of the mercator grid
		domain.NewObservation(5, "k1", 0.5, 0.5),         // tie in both axes
		domain.NewObservation(6, "merc", 0.0009, 0.0009), // ~100 m north-east
	}
}

func value(t *testing.T, o *domain.Observation, name string) float64 {
	t.Helper()
	v, ok := o.Get(name).Float()
	if !ok {
		t.Fatalf("row %d: %s is %v, expected a present value", o.Row, name, o.Get(name).State)
	}
	return v
}

// TestRun_PartialFailure tests that failing rows are recorded and the others enriched
func TestRun_PartialFailure(t *testing.T) {
	e := newTestEnricher(t, EnrichConfig{Variables: domain.VariableSet{"topo"}},
		geoDataset(t, "k1"), mercatorDataset(t, "merc"))
	obs := testObservations()

	report, err := e.Run(context.Background(), obs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := value(t, obs[0], "topo"); got != 200 {
		t.Errorf("row 0: expected 200, got %v", got)
	}
	if got := value(t, obs[2], "topo"); got != 300 {
		t.Errorf("row 2: expected 300, got %v", got)
	}
	if got := value(t, obs[4], "topo"); got != 5 {
		t.Errorf("row 4: expected 5, got %v", got)
	}
	if got := value(t, obs[5], "topo"); got != 100 {
		t.Errorf("row 5: tie should resolve to the smallest index (100), got %v", got)
	}
	if got := value(t, obs[6], "topo"); got != 3 {
		t.Errorf("row 6: expected 3, got %v", got)
	}

	for _, row := range []int{1, 3} {
		if st := obs[row].Get("topo").State; st != domain.NotComputed {
			t.Errorf("row %d: failed rows must stay NotComputed, got %v", row, st)
		}
	}

	if report.Total != 7 || report.Succeeded != 5 || report.Failed != 2 {
		t.Errorf("unexpected counts %+v", report)
	}
	if f, ok := report.FailureFor(1); !ok || f.Kind != domain.KindMissingDataset {
		t.Errorf("row 1: expected missing_dataset failure, got %+v", f)
	}
	if f, ok := report.FailureFor(3); !ok || f.Kind != domain.KindOutOfGrid {
		t.Errorf("row 3: expected out_of_grid failure, got %+v", f)
	}
}

// TestRun_MissingDatasetIsolation tests that a missing dataset affects only its own rows
func TestRun_MissingDatasetIsolation(t *testing.T) {
	e := newTestEnricher(t, EnrichConfig{Variables: domain.VariableSet{"topo"}}, geoDataset(t, "k1"))
	obs := []*domain.Observation{
		domain.NewObservation(0, "k1", 0, 1),
		domain.NewObservation(1, "gone", 0, 1),
		domain.NewObservation(2, "k1", 1, 0),
	}

	report, err := e.Run(context.Background(), obs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if value(t, obs[0], "topo") != 100 || value(t, obs[2], "topo") != 400 {
		t.Errorf("neighbours of a missing dataset must be enriched")
	}
	if report.Failed != 1 || report.Failures[0].Row != 1 {
		t.Errorf("expected exactly row 1 to fail, got %+v", report.Failures)
	}
}

// TestRun_NoDataIsNotZero tests that no-data cells produce the NoData state
func TestRun_NoDataIsNotZero(t *testing.T) {
	e := newTestEnricher(t, EnrichConfig{Variables: domain.VariableSet{"topo", "slope"}}, geoDataset(t, "k1"))
	obs := []*domain.Observation{domain.NewObservation(0, "k1", 1, 1)}

	report, err := e.Run(context.Background(), obs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := obs[0].Get("slope"); got.State != domain.NoData {
		t.Errorf("expected NoData for slope, got %+v", got)
	}
	if report.Succeeded != 1 {
		t.Errorf("no data is not a failure, got %+v", report)
	}
	if st := report.Variables["slope"]; st.NoData != 1 || st.Present != 0 {
		t.Errorf("unexpected slope stats %+v", st)
	}
}

// TestRun_MissingVariable tests that a missing layer fails the row without partial writes
func TestRun_MissingVariable(t *testing.T) {
	e := newTestEnricher(t, EnrichConfig{Variables: domain.VariableSet{"topo", "aspect"}}, geoDataset(t, "k1"))
	obs := []*domain.Observation{domain.NewObservation(0, "k1", 0, 1)}

	report, err := e.Run(context.Background(), obs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.FailuresByKind[domain.KindMissingVariable] != 1 {
		t.Errorf("expected a missing_variable failure, got %v", report.FailuresByKind)
	}
	if st := obs[0].Get("topo").State; st != domain.NotComputed {
		t.Errorf("topo must not be written when aspect fails, got %v", st)
	}
}

// TestRun_FailFast tests that the first error aborts the run
func TestRun_FailFast(t *testing.T) {
	e := newTestEnricher(t, EnrichConfig{Variables: domain.VariableSet{"topo"}, FailFast: true},
		geoDataset(t, "k1"), mercatorDataset(t, "merc"))
	obs := testObservations()

	report, err := e.Run(context.Background(), obs)
	var md *domain.MissingDatasetError
	if !errors.As(err, &md) || md.Key != "missing" {
		t.Fatalf("expected MissingDatasetError for 'missing', got %v", err)
	}
	if !strings.Contains(err.Error(), "observation 1") {
		t.Errorf("error should name the observation: %v", err)
	}
	if report == nil || report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("expected report with 1 success and 1 failure, got %+v", report)
	}
	if st := obs[2].Get("topo").State; st != domain.NotComputed {
		t.Errorf("rows after the failure must not be processed, got %v", st)
	}
}

// TestRun_ShardedMatchesSequential tests that workers do not change results
func TestRun_ShardedMatchesSequential(t *testing.T) {
	datasets := []*domain.GriddedDataset{geoDataset(t, "k1"), mercatorDataset(t, "merc")}
	seq := newTestEnricher(t, EnrichConfig{Variables: domain.VariableSet{"topo", "slope"}}, datasets...)
	par := newTestEnricher(t, EnrichConfig{Variables: domain.VariableSet{"topo", "slope"}, Workers: 4}, datasets...)

	a, b := testObservations(), testObservations()
	ra, err := seq.Run(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	rb, err := par.Run(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}

	for i := range a {
		for _, name := range []string{"topo", "slope"} {
			va, vb := a[i].Get(name), b[i].Get(name)
			if va.State != vb.State || (va.State == domain.Present && va.V != vb.V) {
				t.Errorf("row %d %s: sequential %+v, sharded %+v", i, name, va, vb)
			}
		}
	}
	if ra.Failed != rb.Failed || ra.Succeeded != rb.Succeeded {
		t.Errorf("reports differ: %+v vs %+v", ra, rb)
	}
	for i := range ra.Failures {
		if ra.Failures[i].Row != rb.Failures[i].Row || ra.Failures[i].Kind != rb.Failures[i].Kind {
			t.Errorf("failure %d differs: %+v vs %+v", i, ra.Failures[i], rb.Failures[i])
		}
	}
}

// TestRun_Canceled tests that a canceled context stops processing
func TestRun_Canceled(t *testing.T) {
	e := newTestEnricher(t, EnrichConfig{Variables: domain.VariableSet{"topo"}}, geoDataset(t, "k1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := e.Run(ctx, testObservations())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.Succeeded+report.Failed != 0 {
		t.Errorf("no observation should be processed, got %+v", report)
	}
}

// TestRun_CenterExactness tests that every cell center returns its own value
func TestRun_CenterExactness(t *testing.T) {
	ds := geoDataset(t, "k1")
	e := newTestEnricher(t, EnrichConfig{Variables: domain.VariableSet{"topo"}}, ds)

	var obs []*domain.Observation
	for r := 0; r < ds.Geometry.NY; r++ {
		for c := 0; c < ds.Geometry.NX; c++ {
			x, y := ds.Geometry.Center(r, c)
			obs = append(obs, domain.NewObservation(len(obs), "k1", x, y))
		}
	}
	if _, err := e.Run(context.Background(), obs); err != nil {
		t.Fatal(err)
	}
	topo, _ := ds.Layer("topo")
	for i, o := range obs {
		if got := value(t, o, "topo"); got != topo.Values[i] {
			t.Errorf("center %d: expected %v, got %v", i, topo.Values[i], got)
		}
	}
}

// TestRun_BadDatasetCRS tests that an unusable dataset CRS is a transform failure
func TestRun_BadDatasetCRS(t *testing.T) {
	ds := geoDataset(t, "k1")
	ds.CRS = "EPSG:99999"
	e := newTestEnricher(t, EnrichConfig{Variables: domain.VariableSet{"topo"}}, ds)

	report, err := e.Run(context.Background(), []*domain.Observation{domain.NewObservation(0, "k1", 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	if report.FailuresByKind[domain.KindTransform] != 1 {
		t.Errorf("expected a transform failure, got %v", report.FailuresByKind)
	}
}

// TestRun_ClampAndBilinear tests the optional sampling modes
func TestRun_ClampAndBilinear(t *testing.T) {
	e := newTestEnricher(t, EnrichConfig{
		Variables:   domain.VariableSet{"topo"},
		ClampToEdge: true,
		Method:      interp.Bilinear,
	}, geoDataset(t, "k1"))
	obs := []*domain.Observation{
		domain.NewObservation(0, "k1", 10, 10),
		domain.NewObservation(1, "k1", 0.5, 0.5),
	}

	if _, err := e.Run(context.Background(), obs); err != nil {
		t.Fatal(err)
	}
	if got := value(t, obs[0], "topo"); got != 200 {
		t.Errorf("clamped: expected 200, got %v", got)
	}
	if got := value(t, obs[1], "topo"); math.Abs(got-250) > 1e-9 {
		t.Errorf("bilinear: expected 250, got %v", got)
	}
}

// TestNewEnricher_ConfigErrors tests fatal configuration errors
func TestNewEnricher_ConfigErrors(t *testing.T) {
	full, _ := memory.New(geoDataset(t, "k1"))
	empty, _ := memory.New()

	tests := []struct {
		name    string
		cfg     EnrichConfig
		lookup  *memory.Store
		wantErr error
	}{
		{"no variables", EnrichConfig{}, full, domain.ErrNoVariables},
		{"blank variables", EnrichConfig{Variables: domain.VariableSet{""}}, full, domain.ErrNoVariables},
		{"empty lookup", EnrichConfig{Variables: domain.VariableSet{"topo"}}, empty, domain.ErrEmptyLookup},
		{"unknown source CRS", EnrichConfig{Variables: domain.VariableSet{"topo"}, SourceCRS: "EPSG:1"}, full, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEnricher(tt.cfg, tt.lookup, nil, nil)
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestSample tests single-point sampling
func TestSample(t *testing.T) {
	e := newTestEnricher(t, EnrichConfig{Variables: domain.VariableSet{"topo"}}, geoDataset(t, "k1"))

	o, err := e.Sample("k1", 1, 0, domain.VariableSet{"topo", "slope"})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if value(t, o, "topo") != 400 || value(t, o, "slope") != 40 {
		t.Errorf("unexpected values %+v", o.Attrs)
	}

	if _, err := e.Sample("nope", 0, 0, nil); !errors.Is(err, domain.ErrDatasetNotFound) {
		t.Errorf("expected ErrDatasetNotFound, got %v", err)
	}
}
