package domain

import (
	"context"
	"errors"
	"fmt"
)

// Configuration errors. These abort a run before any observation is processed.
var (
	ErrNoVariables = errors.New("variable set is empty")
	ErrEmptyLookup = errors.New("dataset lookup contains no datasets")
)

// ErrDatasetNotFound is matched by MissingDatasetError via errors.Is.
var ErrDatasetNotFound = errors.New("dataset not found")

// MissingDatasetError reports a key with no gridded dataset.
type MissingDatasetError struct {
	Key string
}

func (e *MissingDatasetError) Error() string {
	return fmt.Sprintf("no gridded dataset for key %q", e.Key)
}

// Is lets errors.Is(err, ErrDatasetNotFound) match.
func (e *MissingDatasetError) Is(target error) bool {
	return target == ErrDatasetNotFound
}

// MissingVariableError reports a requested variable absent from a dataset.
type MissingVariableError struct {
	Key      string
	Variable string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("dataset %q has no variable %q", e.Key, e.Variable)
}

// TransformError reports a failed reprojection.
type TransformError struct {
	Key      string
	Lon, Lat float64
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("failed to transform (%.6f, %.6f) for %q: %v", e.Lon, e.Lat, e.Key, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// OutOfGridError reports a projected point beyond the grid extent.
type OutOfGridError struct {
	Key  string
	X, Y float64
}

func (e *OutOfGridError) Error() string {
	return fmt.Sprintf("point (%.3f, %.3f) lies outside the grid of %q", e.X, e.Y, e.Key)
}

// Error kinds used in reports.
const (
	KindMissingDataset  = "missing_dataset"
	KindMissingVariable = "missing_variable"
	KindTransform       = "transform"
	KindOutOfGrid       = "out_of_grid"
	KindCanceled        = "canceled"
	KindOther           = "other"
)

// ErrorKind classifies a per-observation error.
func ErrorKind(err error) string {
	var (
		md *MissingDatasetError
		mv *MissingVariableError
		te *TransformError
		og *OutOfGridError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &md), errors.Is(err, ErrDatasetNotFound):
		return KindMissingDataset
	case errors.As(err, &mv):
		return KindMissingVariable
	case errors.As(err, &te):
		return KindTransform
	case errors.As(err, &og):
		return KindOutOfGrid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindOther
	}
}
