package interp

import (
	"fmt"
	"math"

	"go.ngs.io/glacier-enricher/internal/domain"
)

// spacingTolerance is the relative deviation allowed between successive axis steps.
const spacingTolerance = 1e-6

// GeometryFromAxes builds the affine geometry from 1-D cell-center axes.
// Axes may increase or decrease but must be regularly spaced. A single-value
// axis is given unit spacing.
func GeometryFromAxes(x, y []float64) (domain.GridGeometry, error) {
	dx, err := axisStep("x", x)
	if err != nil {
		return domain.GridGeometry{}, err
	}
	dy, err := axisStep("y", y)
	if err != nil {
		return domain.GridGeometry{}, err
	}

	g := domain.GridGeometry{
		NX: len(x),
		NY: len(y),
		X0: x[0],
		Y0: y[0],
		DX: dx,
		DY: dy,
	}
	return g, g.Validate()
}

func axisStep(name string, axis []float64) (float64, error) {
	if len(axis) == 0 {
		return 0, fmt.Errorf("%s axis is empty", name)
	}
	if len(axis) == 1 {
		return 1, nil
	}

	step := (axis[len(axis)-1] - axis[0]) / float64(len(axis)-1)
	if step == 0 || math.IsNaN(step) {
		return 0, fmt.Errorf("%s axis is not strictly monotonic", name)
	}
	for i := 1; i < len(axis); i++ {
		d := axis[i] - axis[i-1]
		if math.Abs(d-step) > spacingTolerance*math.Abs(step) {
			return 0, fmt.Errorf("%s axis is not regularly spaced at index %d: step %v, expected %v", name, i, d, step)
		}
	}
	return step, nil
}
