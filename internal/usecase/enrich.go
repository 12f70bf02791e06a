package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"go.ngs.io/glacier-enricher/internal/adapter/interp"
	"go.ngs.io/glacier-enricher/internal/adapter/projection"
	"go.ngs.io/glacier-enricher/internal/adapter/store"
	"go.ngs.io/glacier-enricher/internal/domain"
	"go.ngs.io/glacier-enricher/internal/log"
)

// EnrichConfig is the explicit configuration of an enrichment run.
type EnrichConfig struct {
	Variables   domain.VariableSet
	SourceCRS   string // CRS of observation coordinates; defaults to WGS84.
	FailFast    bool   // Abort on the first per-observation error.
	Workers     int    // Concurrent key shards; values below 1 mean 1.
	Method      interp.Method
	ClampToEdge bool // Snap points beyond the grid to the edge cell.
}

// Validate checks the configuration and fills defaults.
func (c *EnrichConfig) Validate() error {
	vars, err := domain.NewVariableSet(c.Variables...)
	if err != nil {
		return err
	}
	c.Variables = vars

	if c.SourceCRS == "" {
		c.SourceCRS = projection.WGS84
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Method != interp.Nearest && c.Method != interp.Bilinear {
		return fmt.Errorf("unknown sampling method %v", c.Method)
	}
	return nil
}

// Enricher samples gridded datasets at observation locations.
type Enricher struct {
	cfg         EnrichConfig
	lookup      store.DatasetLookup
	projections *projection.Cache
	sampler     interp.Sampler
	logger      *log.Logger
}

// NewEnricher validates the configuration against the lookup. It fails with
// domain.ErrNoVariables for an empty variable set, domain.ErrEmptyLookup
// when the lookup exposes no datasets, and with a parse error for an unknown
// source CRS.
func NewEnricher(cfg EnrichConfig, lookup store.DatasetLookup, projections *projection.Cache, logger *log.Logger) (*Enricher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lookup == nil {
		return nil, domain.ErrEmptyLookup
	}
	keys, err := lookup.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	if len(keys) == 0 {
		return nil, domain.ErrEmptyLookup
	}
	if _, err := projection.Parse(cfg.SourceCRS); err != nil {
		return nil, fmt.Errorf("invalid source CRS: %w", err)
	}

	if projections == nil {
		projections, err = projection.NewCache(0)
		if err != nil {
			return nil, err
		}
	}

	return &Enricher{
		cfg:         cfg,
		lookup:      lookup,
		projections: projections,
		sampler:     interp.Sampler{Method: cfg.Method, ClampToEdge: cfg.ClampToEdge},
		logger:      logger,
	}, nil
}

// Config returns the validated configuration.
func (e *Enricher) Config() EnrichConfig {
	return e.cfg
}

// WithVariables returns an enricher sharing lookup and caches but sampling
// a different variable set.
func (e *Enricher) WithVariables(names ...string) (*Enricher, error) {
	vars, err := domain.NewVariableSet(names...)
	if err != nil {
		return nil, err
	}
	c := *e
	c.cfg.Variables = vars
	return &c, nil
}

// target is a dataset resolved once per key.
type target struct {
	ds        *domain.GriddedDataset
	transform projection.Transformer
	err       error
}

func (e *Enricher) resolve(key string) target {
	ds, err := e.lookup.Lookup(key)
	if err != nil {
		if errors.Is(err, domain.ErrDatasetNotFound) {
			return target{err: err}
		}
		return target{err: fmt.Errorf("dataset %s: %w", key, err)}
	}
	t, err := e.projections.Transformer(e.cfg.SourceCRS, ds.CRS)
	if err != nil {
		return target{ds: ds, err: err}
	}
	return target{ds: ds, transform: t}
}

// enrichOne samples every variable for o. Values are committed only when
// all variables succeed, so a failed observation keeps NotComputed values.
func (e *Enricher) enrichOne(o *domain.Observation, tg target) error {
	if tg.err != nil {
		if tg.ds != nil {
			// The dataset loaded but its CRS could not be used.
			return &domain.TransformError{Key: o.Key, Lon: o.Lon, Lat: o.Lat, Err: tg.err}
		}
		return tg.err
	}

	x, y, err := tg.transform(o.Lon, o.Lat)
	if err != nil {
		return &domain.TransformError{Key: o.Key, Lon: o.Lon, Lat: o.Lat, Err: err}
	}

	values := make([]domain.Value, len(e.cfg.Variables))
	for i, name := range e.cfg.Variables {
		v, err := e.sampler.Sample(tg.ds, name, x, y)
		if err != nil {
			return err
		}
		values[i] = v
	}
	for i, name := range e.cfg.Variables {
		o.Set(name, values[i])
	}
	return nil
}

// Run enriches observations in place and returns the run report.
//
// In partial-failure mode every observation is attempted and failures are
// recorded in the report. In fail-fast mode the first failure stops the run
// and is returned wrapped with the observation's row and key. A canceled
// context stops the run between observations and returns ctx.Err(). The
// report is returned in every case.
func (e *Enricher) Run(ctx context.Context, obs []*domain.Observation) (*domain.Report, error) {
	start := time.Now()
	report := domain.NewReport(len(obs))
	logger := e.logger.With("run_id", report.RunID)

	errs := make([]error, len(obs))
	done := make([]bool, len(obs))

	var runErr error
	if e.cfg.Workers > 1 {
		runErr = e.runSharded(ctx, obs, errs, done)
	} else {
		runErr = e.runSequential(ctx, obs, errs, done)
	}

	for i, o := range obs {
		switch {
		case !done[i]:
		case errs[i] != nil:
			report.RecordFailure(o, errs[i])
			logger.Debug("observation failed", "row", o.Row, "key", o.Key, "error", errs[i])
		default:
			report.RecordSuccess()
		}
	}
	report.Finish(obs, e.cfg.Variables)

	logger.Info("enrichment finished",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"workers", e.cfg.Workers,
		"elapsed", time.Since(start))

	if ctxErr := ctx.Err(); ctxErr != nil {
		return report, ctxErr
	}
	return report, runErr
}

func (e *Enricher) failFast(o *domain.Observation, err error) error {
	return fmt.Errorf("observation %d (%s): %w", o.Row, o.Key, err)
}

func (e *Enricher) runSequential(ctx context.Context, obs []*domain.Observation, errs []error, done []bool) error {
	targets := make(map[string]target)
	for i, o := range obs {
		if err := ctx.Err(); err != nil {
			return err
		}
		tg, ok := targets[o.Key]
		if !ok {
			tg = e.resolve(o.Key)
			targets[o.Key] = tg
		}

		errs[i] = e.enrichOne(o, tg)
		done[i] = true
		if errs[i] != nil && e.cfg.FailFast {
			return e.failFast(o, errs[i])
		}
	}
	return nil
}

// runSharded partitions observations by key and processes shards
// concurrently. Each observation is written by exactly one goroutine.
func (e *Enricher) runSharded(ctx context.Context, obs []*domain.Observation, errs []error, done []bool) error {
	var order []string
	shards := make(map[string][]int)
	for i, o := range obs {
		if _, ok := shards[o.Key]; !ok {
			order = append(order, o.Key)
		}
		shards[o.Key] = append(shards[o.Key], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, key := range order {
		idx := shards[key]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tg := e.resolve(key)
			for _, i := range idx {
				if err := gctx.Err(); err != nil {
					return err
				}
				errs[i] = e.enrichOne(obs[i], tg)
				done[i] = true
				if errs[i] != nil && e.cfg.FailFast {
					return e.failFast(obs[i], errs[i])
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Sample returns the values of vars at one geographic point of a dataset.
func (e *Enricher) Sample(key string, lon, lat float64, vars domain.VariableSet) (*domain.Observation, error) {
	if len(vars) == 0 {
		vars = e.cfg.Variables
	}
	sub, err := e.WithVariables(vars...)
	if err != nil {
		return nil, err
	}
	o := domain.NewObservation(0, key, lon, lat)
	if err := sub.enrichOne(o, sub.resolve(key)); err != nil {
		return nil, err
	}
	return o, nil
}
