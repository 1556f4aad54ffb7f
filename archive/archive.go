// Package archive bundles a VPU group's output files into a gzip-compressed
// tar, the form the pipeline's outputs are collected into for downstream
// distribution.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"

	"github.com/hydroforcing/forcingprocessor/objstore"
)

// Group bundles the named files (path -> contents) into a single
// gzip-tar archive, writing members in the order given by order.
func Group(files map[string][]byte, order []string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, name := range order {
		data, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("archive: file %s listed in order but not provided", name)
		}
		hdr := &tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("archive: writing header for %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("archive: writing contents for %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("archive: closing tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("archive: closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// GroupInput is one VPU group's files to be bundled and the destination to
// write the bundle to.
type GroupInput struct {
	Dest  string
	Files map[string][]byte
	Order []string
}

// RunAll archives every group in groups concurrently, capping the worker
// pool at min(len(groups), nprocs), the same pool-sizing discipline used
// in the pipeline's other fan-out stages.
func RunAll(ctx context.Context, store *objstore.Store, groups []GroupInput, nprocs int) error {
	if nprocs <= 0 {
		nprocs = 1
	}
	if nprocs > len(groups) {
		nprocs = len(groups)
	}
	if nprocs == 0 {
		return nil
	}

	jobChan := make(chan GroupInput, len(groups))
	errChan := make(chan error, nprocs)
	for _, g := range groups {
		jobChan <- g
	}
	close(jobChan)

	for w := 0; w < nprocs; w++ {
		go func() {
			for g := range jobChan {
				data, err := Group(g.Files, g.Order)
				if err != nil {
					errChan <- fmt.Errorf("archive: group for %s: %w", g.Dest, err)
					return
				}
				if err := store.Put(ctx, g.Dest, data); err != nil {
					errChan <- fmt.Errorf("archive: writing bundle %s: %w", g.Dest, err)
					return
				}
			}
			errChan <- nil
		}()
	}

	for w := 0; w < nprocs; w++ {
		if err := <-errChan; err != nil {
			return err
		}
	}
	return nil
}
