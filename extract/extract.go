// Package extract runs the worker pool that fetches, decodes, and projects
// a chunk's assigned forcing files onto catchments.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hydroforcing/forcingprocessor/crosswalk"
	"github.com/hydroforcing/forcingprocessor/grid"
	"github.com/hydroforcing/forcingprocessor/objstore"
	"github.com/hydroforcing/forcingprocessor/partition"
	"github.com/hydroforcing/forcingprocessor/project"
)

// TimeStep is one file's fully-projected contribution: nine variables,
// each a per-catchment slice in crosswalk.Catchments() order.
type TimeStep struct {
	Index     int // position in the overall file list, for in-order reassembly
	ValidTime string
	Values    [grid.NumVariables][]float32
}

// Fetcher retrieves one forcing file's bytes, abstracting over the
// object-store backend so tests can substitute an in-memory source.
type Fetcher func(ctx context.Context, uri string) ([]byte, error)

// Run assigns files[plan.Offsets[k] : plan.Offsets[k]+plan.Shares[k]] to
// worker k. Each worker walks its contiguous slice in index order, so the
// concatenation of per-worker results equals file-list order without any
// reordering step, and workers write into disjoint ranges of the shared
// result slice, so no locking is needed. The crosswalk is shared read-only
// across workers; workers must not mutate it. Run waits for every worker
// to finish before returning, and reports the first error received.
//
// Only the last-launched worker reports elapsed time and throughput, so
// progress lines from concurrent workers never interleave.
func Run(ctx context.Context, files []string, plan partition.Plan, cw *crosswalk.Crosswalk, catchments []string, fetch Fetcher, log logrus.FieldLogger) ([]TimeStep, error) {
	results := make([]TimeStep, len(files))
	numWorkers := len(plan.Shares)
	if numWorkers == 0 {
		return results, nil
	}

	errChan := make(chan error, numWorkers)
	for k := 0; k < numWorkers; k++ {
		off, share := plan.Offsets[k], plan.Shares[k]
		reportProgress := log != nil && k == numWorkers-1
		go func() {
			start := time.Now()
			for i := off; i < off+share; i++ {
				step, err := processOne(ctx, files[i], cw, catchments, fetch)
				if err != nil {
					errChan <- err
					return
				}
				step.Index = i
				results[i] = step
			}
			if reportProgress && share > 0 {
				elapsed := time.Since(start)
				log.WithFields(logrus.Fields{
					"files":         share,
					"elapsed":       elapsed.Round(time.Millisecond).String(),
					"files_per_sec": float64(share) / elapsed.Seconds(),
				}).Info("extract: worker finished")
			}
			errChan <- nil
		}()
	}

	var firstErr error
	for k := 0; k < numWorkers; k++ {
		if err := <-errChan; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func processOne(ctx context.Context, uri string, cw *crosswalk.Crosswalk, catchments []string, fetch Fetcher) (TimeStep, error) {
	var step TimeStep
	data, err := fetch(ctx, uri)
	if err != nil {
		return step, fmt.Errorf("extract: fetching %s: %w", uri, err)
	}
	rec, err := grid.Decode(data)
	if err != nil {
		return step, fmt.Errorf("extract: decoding %s: %w", uri, err)
	}
	step.ValidTime = rec.ValidTime
	for vi := 0; vi < grid.NumVariables; vi++ {
		projected, err := project.Grid(rec.Values[vi], catchments, cw.Descriptor)
		if err != nil {
			return step, fmt.Errorf("extract: projecting %s variable %d: %w", uri, vi, err)
		}
		step.Values[vi] = projected
	}
	return step, nil
}

// UseStore adapts an objstore.Store into a Fetcher.
func UseStore(s *objstore.Store) Fetcher {
	return func(ctx context.Context, uri string) ([]byte, error) {
		return s.Open(ctx, uri)
	}
}
