package partition

import "testing"

func sum(shares []int) int {
	total := 0
	for _, s := range shares {
		total += s
	}
	return total
}

func spread(shares []int) int {
	if len(shares) == 0 {
		return 0
	}
	min, max := shares[0], shares[0]
	for _, s := range shares {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return max - min
}

func TestSeedConservation(t *testing.T) {
	cases := []struct{ n, p int }{
		{0, 1}, {1, 1}, {10, 1}, {10, 3}, {3, 8}, {100, 7}, {7, 7},
	}
	for _, c := range cases {
		shares := Seed(c.n, c.p)
		if got := sum(shares); got != c.n {
			t.Errorf("Seed(%d, %d): sum = %d, want %d", c.n, c.p, got, c.n)
		}
		if c.n > 0 && spread(shares) > 1 {
			t.Errorf("Seed(%d, %d): spread = %d, want <= 1", c.n, c.p, spread(shares))
		}
	}
}

func TestRebalancePreservesTotal(t *testing.T) {
	shares := Seed(1000, 8)
	before := sum(shares)
	out := Rebalance(shares, 35, 0.05, 1)
	if got := sum(out); got != before {
		t.Errorf("Rebalance changed total: %d != %d", got, before)
	}
}

func TestRebalanceConvergesSpread(t *testing.T) {
	// With a meaningful per-worker launch delay, later workers should end
	// up with fewer files so their estimated completion time catches up
	// with the earlier workers'.
	shares := Seed(100, 4)
	out := Rebalance(shares, 1, 5, 1)
	if out[0] < out[len(out)-1] {
		t.Errorf("expected earlier workers to carry at least as much load as later ones under a high launch delay, got %v", out)
	}
}

func TestDownsizeDropsZeroShareWorkers(t *testing.T) {
	plan := Downsize([]int{2, 0, 3, 0, 1})
	wantShares := []int{2, 3, 1}
	if len(plan.Shares) != len(wantShares) {
		t.Fatalf("Downsize: got %d workers, want %d", len(plan.Shares), len(wantShares))
	}
	for i, s := range wantShares {
		if plan.Shares[i] != s {
			t.Errorf("Downsize: share[%d] = %d, want %d", i, plan.Shares[i], s)
		}
	}
	wantOffsets := []int{0, 2, 5}
	for i, o := range wantOffsets {
		if plan.Offsets[i] != o {
			t.Errorf("Downsize: offset[%d] = %d, want %d", i, plan.Offsets[i], o)
		}
	}
}

// nprocs=8 with only 3 input files should downsize to 3 workers with the
// same total share as an nprocs=3 run.
func TestBuildDownsizesWhenWorkersOutnumberFiles(t *testing.T) {
	wide := Build(3, 8, 35, 0.05, 1)
	narrow := Build(3, 3, 35, 0.05, 1)
	if len(wide.Shares) != 3 {
		t.Fatalf("Build(3, 8): got %d workers, want 3", len(wide.Shares))
	}
	if sum(wide.Shares) != sum(narrow.Shares) {
		t.Errorf("Build(3, 8) and Build(3, 3) should place the same total work")
	}
}

func TestBuildHandlesZeroFiles(t *testing.T) {
	plan := Build(0, 4, 35, 0.05, 1)
	if len(plan.Shares) != 0 {
		t.Errorf("Build(0, 4): got %d workers, want 0", len(plan.Shares))
	}
}
