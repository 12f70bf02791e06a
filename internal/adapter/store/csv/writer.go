package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"go.ngs.io/glacier-enricher/internal/domain"
)

// DefaultNoDataMarker is written for cells that were sampled but held no data.
const DefaultNoDataMarker = "NaN"

// WriteOptions controls how sampled values are rendered.
type WriteOptions struct {
	NoDataMarker string         // Defaults to DefaultNoDataMarker.
	ErrorColumn  string         // When set, failed rows carry their error kind here.
	Report       *domain.Report // Failed rows get empty cells and, with ErrorColumn, their error kind.
}

// FormatValue renders a value: shortest float for Present, the marker for
// NoData and an empty cell for NotComputed.
func FormatValue(v domain.Value, noData string) string {
	switch v.State {
	case domain.Present:
		return strconv.FormatFloat(v.V, 'g', -1, 64)
	case domain.NoData:
		return noData
	default:
		return ""
	}
}

// Write emits the table with one column per variable. Existing columns of
// the same name are overwritten in place; new ones are appended in order.
// Rows that failed in opts.Report are written with empty variable cells, so
// a pre-existing NaN never survives to look like the no-data marker. Rows
// without a value or a failure were not reached and keep their cells. All
// other cells are written unchanged.
func (t *Table) Write(w io.Writer, vars domain.VariableSet, opts WriteOptions) error {
	if opts.NoDataMarker == "" {
		opts.NoDataMarker = DefaultNoDataMarker
	}

	header := append([]string(nil), t.Header...)
	columnOf := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		header = append(header, name)
		return len(header) - 1
	}

	varCols := make([]int, len(vars))
	for i, name := range vars {
		varCols[i] = columnOf(name)
	}
	errCol := -1
	if opts.ErrorColumn != "" {
		errCol = columnOf(opts.ErrorColumn)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i, rec := range t.Rows {
		out := make([]string, len(header))
		copy(out, rec)

		obs := t.Observations[i]
		failure, failed := domain.Failure{}, false
		if opts.Report != nil {
			failure, failed = opts.Report.FailureFor(obs.Row)
		}
		for j, name := range vars {
			v := obs.Get(name)
			if v.State == domain.NotComputed && !failed && varCols[j] < len(rec) {
				// Rows the run never reached keep their pre-existing cells.
				continue
			}
			out[varCols[j]] = FormatValue(v, opts.NoDataMarker)
		}
		if errCol >= 0 && opts.Report != nil {
			out[errCol] = ""
			if failed {
				out[errCol] = failure.Kind
			}
		}

		if err := cw.Write(out); err != nil {
			return fmt.Errorf("failed to write CSV record %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
