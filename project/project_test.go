package project

import (
	"testing"

	"github.com/hydroforcing/forcingprocessor/crosswalk"
)

// The projector computes sum(w_i * G[cells_i]) / sum(w_i), which reduces
// to an unweighted mean when weights are uniform.
func TestCatchmentWeightedMean(t *testing.T) {
	grid := []float32{10, 20, 30}
	d := crosswalk.Descriptor{Cells: []int{0, 1}, Weights: []float64{1, 1}}
	got, err := Catchment(grid, d)
	if err != nil {
		t.Fatal(err)
	}
	if want := float32(15); got != want {
		t.Errorf("Catchment() = %v, want %v", got, want)
	}
}

// A 1x3 grid with values [10,20,30]: cat-1 covers cells [0,1] with equal
// weight, cat-2 covers cell [2] alone.
func TestCatchmentTwoCatchments(t *testing.T) {
	grid := []float32{10, 20, 30}
	cat1, err := Catchment(grid, crosswalk.Descriptor{Cells: []int{0, 1}, Weights: []float64{1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if cat1 != 15 {
		t.Errorf("cat-1 UGRD = %v, want 15", cat1)
	}
	cat2, err := Catchment(grid, crosswalk.Descriptor{Cells: []int{2}, Weights: []float64{2}})
	if err != nil {
		t.Fatal(err)
	}
	if cat2 != 30 {
		t.Errorf("cat-2 UGRD = %v, want 30", cat2)
	}
}

func TestCatchmentWeightedSkew(t *testing.T) {
	grid := []float32{0, 10}
	d := crosswalk.Descriptor{Cells: []int{0, 1}, Weights: []float64{3, 1}}
	got, err := Catchment(grid, d)
	if err != nil {
		t.Fatal(err)
	}
	if want := float32(2.5); got != want {
		t.Errorf("Catchment() = %v, want %v", got, want)
	}
}

func TestCatchmentOutOfRangeCell(t *testing.T) {
	grid := []float32{1, 2}
	_, err := Catchment(grid, crosswalk.Descriptor{Cells: []int{5}, Weights: []float64{1}})
	if err == nil {
		t.Fatal("expected an out-of-range error, got nil")
	}
	var integ *crosswalk.IntegrityError
	if !asIntegrityError(err, &integ) {
		t.Errorf("expected a crosswalk.IntegrityError, got %T: %v", err, err)
	}
}

func asIntegrityError(err error, target **crosswalk.IntegrityError) bool {
	ie, ok := err.(*crosswalk.IntegrityError)
	if ok {
		*target = ie
	}
	return ok
}

func TestGridOrdersByCrosswalkCatchments(t *testing.T) {
	grid := []float32{1, 2, 3}
	descriptors := map[string]crosswalk.Descriptor{
		"cat-2": {Cells: []int{0}, Weights: []float64{1}},
		"cat-1": {Cells: []int{2}, Weights: []float64{1}},
	}
	lookup := func(cat string) (crosswalk.Descriptor, bool) {
		d, ok := descriptors[cat]
		return d, ok
	}
	out, err := Grid(grid, []string{"cat-1", "cat-2"}, lookup)
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 3 || out[1] != 1 {
		t.Errorf("Grid() = %v, want [3 1] (catchment order preserved)", out)
	}
}

func TestGridUnknownCatchment(t *testing.T) {
	lookup := func(string) (crosswalk.Descriptor, bool) { return crosswalk.Descriptor{}, false }
	if _, err := Grid([]float32{1}, []string{"cat-missing"}, lookup); err == nil {
		t.Fatal("expected an error for an unresolvable catchment")
	}
}
