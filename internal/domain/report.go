package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
)

// Failure records a per-observation error.
type Failure struct {
	Row     int    `json:"row"`
	Key     string `json:"key"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// VariableStats summarizes the values written for one variable. Min, Max
// and Mean are nil when no value is present.
type VariableStats struct {
	Present int      `json:"present"`
	NoData  int      `json:"no_data"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Mean    *float64 `json:"mean,omitempty"`
}

// Report is the run-level summary of an enrichment.
type Report struct {
	RunID          string                   `json:"run_id"`
	StartedAt      time.Time                `json:"started_at"`
	FinishedAt     time.Time                `json:"finished_at"`
	Total          int                      `json:"total"`
	Succeeded      int                      `json:"succeeded"`
	Failed         int                      `json:"failed"`
	Failures       []Failure                `json:"failures"`
	FailuresByKind map[string]int           `json:"failures_by_kind"`
	Variables      map[string]VariableStats `json:"variables"`
}

// NewReport starts a report with a fresh run ID.
func NewReport(total int) *Report {
	return &Report{
		RunID:          uuid.New().String(),
		StartedAt:      time.Now().UTC(),
		Total:          total,
		Failures:       make([]Failure, 0),
		FailuresByKind: make(map[string]int),
		Variables:      make(map[string]VariableStats),
	}
}

// RecordFailure adds a failure for an observation.
func (r *Report) RecordFailure(obs *Observation, err error) {
	kind := ErrorKind(err)
	r.Failures = append(r.Failures, Failure{
		Row:     obs.Row,
		Key:     obs.Key,
		Kind:    kind,
		Message: err.Error(),
		Err:     err,
	})
	r.FailuresByKind[kind]++
	r.Failed++
}

// RecordSuccess counts a fully enriched observation.
func (r *Report) RecordSuccess() {
	r.Succeeded++
}

// Finish sorts failures by row and computes per-variable statistics.
func (r *Report) Finish(obs []*Observation, vars VariableSet) {
	sort.SliceStable(r.Failures, func(i, j int) bool {
		return r.Failures[i].Row < r.Failures[j].Row
	})

	for _, name := range vars {
		var st VariableStats
		vals := make([]float64, 0, len(obs))
		for _, o := range obs {
			switch v := o.Get(name); v.State {
			case Present:
				vals = append(vals, v.V)
			case NoData:
				st.NoData++
			case NotComputed:
			}
		}
		st.Present = len(vals)
		if len(vals) > 0 {
			lo, hi := floats.Min(vals), floats.Max(vals)
			mean := floats.Sum(vals) / float64(len(vals))
			st.Min, st.Max, st.Mean = &lo, &hi, &mean
		}
		r.Variables[name] = st
	}

	r.FinishedAt = time.Now().UTC()
}

// FailureFor returns the failure recorded for a row, if any.
func (r *Report) FailureFor(row int) (Failure, bool) {
	i := sort.Search(len(r.Failures), func(i int) bool { return r.Failures[i].Row >= row })
	if i < len(r.Failures) && r.Failures[i].Row == row {
		return r.Failures[i], true
	}
	return Failure{}, false
}
