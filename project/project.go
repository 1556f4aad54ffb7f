// Package project reduces a gridded forcing field onto catchments using
// the area-weighted crosswalk descriptors.
package project

import (
	"fmt"

	"github.com/hydroforcing/forcingprocessor/crosswalk"
)

// Catchment computes the weighted reduction of a single variable's flat,
// row-major grid values onto one catchment, following the same
// weight·value / Σweight shape as an area-weighted polygon regrid: each
// grid cell contributes in proportion to its crosswalk weight, and the
// result is normalized by the sum of all the descriptor's weights. A cell
// index outside the grid is an IntegrityError.
func Catchment(grid []float32, d crosswalk.Descriptor) (float32, error) {
	if len(d.Cells) == 0 {
		return 0, fmt.Errorf("project: empty descriptor")
	}
	var sum, weightSum float64
	for i, cell := range d.Cells {
		if cell < 0 || cell >= len(grid) {
			return 0, &crosswalk.IntegrityError{Cause: fmt.Errorf("cell index %d out of bounds for grid of length %d", cell, len(grid))}
		}
		w := d.Weights[i]
		sum += float64(grid[cell]) * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0, fmt.Errorf("project: descriptor has zero total weight")
	}
	return float32(sum / weightSum), nil
}

// Grid reduces one variable's grid values onto every catchment named in
// catchments, in the given order, looking up each catchment's descriptor
// via lookup. This is the per-timestep, per-variable entry point the
// extraction coordinator calls once for each variable of each assigned file.
func Grid(grid []float32, catchments []string, lookup func(string) (crosswalk.Descriptor, bool)) ([]float32, error) {
	out := make([]float32, len(catchments))
	for i, cat := range catchments {
		d, ok := lookup(cat)
		if !ok {
			return nil, fmt.Errorf("project: no descriptor for catchment %s", cat)
		}
		v, err := Catchment(grid, d)
		if err != nil {
			return nil, fmt.Errorf("project: catchment %s: %w", cat, err)
		}
		out[i] = v
	}
	return out, nil
}
