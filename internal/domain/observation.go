package domain

import (
	"fmt"
	"math"
)

// ValueState distinguishes a value that was never computed from one that was
// computed but landed on a no-data cell.
type ValueState int

const (
	// NotComputed is the zero state: the variable has not been sampled.
	NotComputed ValueState = iota
	// Present means V holds a sampled value.
	Present
	// NoData means the nearest cell carried no data.
	NoData
)

func (s ValueState) String() string {
	switch s {
	case NotComputed:
		return "not_computed"
	case Present:
		return "present"
	case NoData:
		return "no_data"
	default:
		return fmt.Sprintf("ValueState(%d)", int(s))
	}
}

// Value is a sampled attribute.
type Value struct {
	State ValueState
	V     float64
}

// PresentValue returns a Present value, or NoData when v is NaN or infinite.
func PresentValue(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{State: NoData}
	}
	return Value{State: Present, V: v}
}

// NoDataValue returns the explicit missing marker.
func NoDataValue() Value {
	return Value{State: NoData}
}

// Float returns the value and whether it is present.
func (v Value) Float() (float64, bool) {
	return v.V, v.State == Present
}

// Observation is one point measurement to be enriched.
type Observation struct {
	Row   int    // Zero-based row in the input table.
	Key   string // Dataset key, e.g. an RGI glacier ID.
	Lon   float64
	Lat   float64
	Attrs map[string]Value
}

// NewObservation creates an observation with an empty attribute set.
func NewObservation(row int, key string, lon, lat float64) *Observation {
	return &Observation{
		Row:   row,
		Key:   key,
		Lon:   lon,
		Lat:   lat,
		Attrs: make(map[string]Value),
	}
}

// Set stores a value for the named variable.
func (o *Observation) Set(name string, v Value) {
	if o.Attrs == nil {
		o.Attrs = make(map[string]Value)
	}
	o.Attrs[name] = v
}

// Get returns the value for name; unknown names are NotComputed.
func (o *Observation) Get(name string) Value {
	return o.Attrs[name]
}

// VariableSet is the ordered list of variables to extract.
type VariableSet []string

// NewVariableSet trims blanks and duplicates while keeping the order.
// It returns ErrNoVariables when nothing is left.
func NewVariableSet(names ...string) (VariableSet, error) {
	seen := make(map[string]bool, len(names))
	vs := make(VariableSet, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		vs = append(vs, n)
	}
	if len(vs) == 0 {
		return nil, ErrNoVariables
	}
	return vs, nil
}
