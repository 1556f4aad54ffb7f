// Package partition assigns the file list to workers and rebalances the
// assignment so no worker's estimated completion time strays far from the
// others'.
package partition

// Plan is the final, rebalanced work assignment: Shares[k] files are
// assigned to worker k, in contiguous blocks starting at Offsets[k].
type Plan struct {
	Shares  []int
	Offsets []int
}

// Seed performs the initial round-robin distribution of n files across p
// workers: worker k receives files k, k+p, k+2p, and so on. Rebalance
// refines this seed against the cost model.
func Seed(n, p int) []int {
	shares := make([]int, p)
	for i := 0; i < n; i++ {
		shares[i%p]++
	}
	return shares
}

// Rebalance redistributes work from Seed's round-robin shares so that the
// estimated completion time of every worker,
//
//	completion[k] = singleExec*shares[k]/execCount + launchDelay*k
//
// converges until the spread between the slowest and fastest worker is no
// greater than singleExec, the cost of one more file on the slowest
// worker. singleExec is the estimated wall-clock cost of extracting one
// file; execCount is files processed per worker invocation; launchDelay
// is the fixed per-worker startup cost (process or goroutine spin-up).
func Rebalance(shares []int, singleExec, launchDelay float64, execCount int) []int {
	if execCount <= 0 {
		execCount = 1
	}
	out := make([]int, len(shares))
	copy(out, shares)

	completion := func() []float64 {
		c := make([]float64, len(out))
		for k, s := range out {
			c[k] = singleExec*float64(s)/float64(execCount) + launchDelay*float64(k)
		}
		return c
	}

	for {
		c := completion()
		maxK, minK := 0, 0
		for k := range c {
			if c[k] > c[maxK] {
				maxK = k
			}
			if c[k] < c[minK] {
				minK = k
			}
		}
		if c[maxK]-c[minK] <= singleExec || out[maxK] == 0 {
			break
		}
		out[maxK]--
		out[minK]++
	}
	return out
}

// Downsize drops workers with zero assigned files and computes contiguous
// block offsets for the remaining workers, so the file list can be sliced
// directly per worker without any worker touching an empty range.
func Downsize(shares []int) Plan {
	var nonzero []int
	for _, s := range shares {
		if s > 0 {
			nonzero = append(nonzero, s)
		}
	}
	offsets := make([]int, len(nonzero))
	total := 0
	for i, s := range nonzero {
		offsets[i] = total
		total += s
	}
	return Plan{Shares: nonzero, Offsets: offsets}
}

// Build runs the full seed -> rebalance -> downsize pipeline for n files
// across an initial pool of p workers.
func Build(n, p int, singleExec, launchDelay float64, execCount int) Plan {
	if p <= 0 {
		p = 1
	}
	if p > n && n > 0 {
		p = n
	}
	shares := Seed(n, p)
	shares = Rebalance(shares, singleExec, launchDelay, execCount)
	return Downsize(shares)
}
