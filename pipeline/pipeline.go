// Package pipeline sequences the chunked extraction-emission run: load the
// crosswalk once, then process the file list chunk by chunk under a fixed
// memory ceiling, appending to prior output on every chunk after the first.
package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hydroforcing/forcingprocessor/archive"
	"github.com/hydroforcing/forcingprocessor/config"
	"github.com/hydroforcing/forcingprocessor/crosswalk"
	"github.com/hydroforcing/forcingprocessor/emit"
	"github.com/hydroforcing/forcingprocessor/extract"
	"github.com/hydroforcing/forcingprocessor/objstore"
	"github.com/hydroforcing/forcingprocessor/partition"
	"github.com/hydroforcing/forcingprocessor/runctx"
)

// Cost-model constants the partitioner's rebalance pass is calibrated
// against, one set per pool lifecycle: extraction workers are dominated by
// network + decode time, emission workers by a cheap per-catchment write
// repeated many times per launch.
const (
	extractSingleExecSeconds  = 35.0
	extractLaunchDelaySeconds = 0.05
	extractExecCount          = 1

	emitSingleExecSeconds  = 1.0
	emitLaunchDelaySeconds = 0.05
	emitExecCount          = 200
)

// Run executes the full pipeline: load the crosswalk, then process the
// configured NWM file list in fixed-size chunks, projecting each chunk
// onto catchments and emitting/appending the requested loose output
// formats. When "tar" was requested, the accumulated per-catchment series
// are bundled into per-VPU-group archives after the last chunk.
func Run(ctx context.Context, rc runctx.Context, cfg config.Config, store *objstore.Store) error {
	if err := validateFormats(cfg.Storage.OutputFileType); err != nil {
		return err
	}

	// Weight files are loaded in their configured order: that order decides
	// which document wins an override and fixes the catchment axis.
	docs := make([]crosswalk.Document, 0, len(cfg.Forcing.WeightFile))
	for _, uri := range cfg.Forcing.WeightFile {
		data, err := store.Open(ctx, uri)
		if err != nil {
			return fmt.Errorf("pipeline: loading weight file %s: %w", uri, err)
		}
		docs = append(docs, crosswalk.Document{Name: uri, Data: data})
	}
	cw, err := crosswalk.Load(rc.Log, docs)
	if err != nil {
		return fmt.Errorf("pipeline: building crosswalk: %w", err)
	}
	catchments := cw.Catchments()

	files, err := readFileList(ctx, store, cfg.Forcing.NWMFile)
	if err != nil {
		return fmt.Errorf("pipeline: reading nwm file list: %w", err)
	}

	nFileChunk := cfg.Run.NFileChunk
	if nFileChunk <= 0 {
		nFileChunk = rc.NFileChunk
	}
	nprocs := cfg.Run.NProcs
	if nprocs <= 0 {
		nprocs = rc.NProcs
	}

	looseFormats, archiveFormat, tarRequested := splitFormats(cfg.Storage.OutputFileType)
	fetch := extract.UseStore(store)

	// archiveAccum holds every chunk's rows per catchment, in chunk order,
	// so a tar-only run (which never round-trips through the output sink)
	// still has a complete series to bundle once the last chunk lands.
	archiveAccum := make(map[string][]emit.Row, len(catchments))

	appendMode := false
	for chunkStart := 0; chunkStart < len(files); chunkStart += nFileChunk {
		chunkEnd := chunkStart + nFileChunk
		if chunkEnd > len(files) {
			chunkEnd = len(files)
		}
		chunk := files[chunkStart:chunkEnd]

		if rc.Verbose {
			rc.WithFields(logrus.Fields{
				"chunk_start": chunkStart,
				"chunk_end":   chunkEnd,
				"append":      appendMode,
			}).Info("pipeline: processing chunk")
		}

		plan := partition.Build(len(chunk), nprocs, extractSingleExecSeconds, extractLaunchDelaySeconds, extractExecCount)
		steps, err := extract.Run(ctx, chunk, plan, cw, catchments, fetch, rc.Log)
		if err != nil {
			return fmt.Errorf("pipeline: extracting chunk starting at %d: %w", chunkStart, err)
		}

		emitPlan := partition.Build(len(catchments), nprocs, emitSingleExecSeconds, emitLaunchDelaySeconds, emitExecCount)
		if err := emitChunk(ctx, store, cfg.Storage.OutputPath, catchments, looseFormats, steps, appendMode, emitPlan, rc.Log); err != nil {
			return err
		}

		if tarRequested {
			for ci, cat := range catchments {
				archiveAccum[cat] = append(archiveAccum[cat], emit.RowsFor(ci, steps)...)
			}
		}

		appendMode = true
	}

	if !tarRequested {
		return nil
	}
	return archiveGroups(ctx, store, cw, cfg.Storage.OutputPath, archiveFormat, archiveAccum, nprocs)
}

func validateFormats(formats []string) error {
	for _, f := range formats {
		if f != "csv" && f != "parquet" && f != "tar" {
			return fmt.Errorf("pipeline: unrecognized output_file_type %q", f)
		}
	}
	return nil
}

// splitFormats separates the loose per-catchment formats (csv/parquet) from
// the tar bundling request, and picks the serialization format tar members
// use: whichever non-tar format was also requested, defaulting to csv when
// tar was requested alone.
func splitFormats(formats []string) (loose []string, archiveFormat string, tar bool) {
	for _, f := range formats {
		if f == "tar" {
			tar = true
			continue
		}
		loose = append(loose, f)
	}
	if tar {
		archiveFormat = "csv"
		if len(loose) > 0 {
			archiveFormat = loose[0]
		}
	}
	return loose, archiveFormat, tar
}

func readFileList(ctx context.Context, store *objstore.Store, path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := store.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := trimLine(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func trimLine(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' || b == '\n' }

// outputBaseName derives the "cat-<id>" file stem from a catchment
// identifier: <id> is the suffix after the last "-" in the identifier.
func outputBaseName(catchment string) string {
	id := catchment
	if i := strings.LastIndex(catchment, "-"); i >= 0 {
		id = catchment[i+1:]
	}
	return "cat-" + id
}

func sinkFor(outputPath, catchment, format string) string {
	return fmt.Sprintf("%s/forcings/%s.%s", outputPath, outputBaseName(catchment), format)
}

// emitChunk writes every loose format for every catchment in this chunk,
// fanning workers out over contiguous catchment ranges the same way
// extract.Run slices the file list. Ranges are disjoint, so workers share
// the read-only steps slice with no locking. Only the last-launched worker
// reports throughput, so progress lines never interleave.
func emitChunk(ctx context.Context, store *objstore.Store, outputPath string, catchments, formats []string, steps []extract.TimeStep, appendMode bool, plan partition.Plan, log logrus.FieldLogger) error {
	if len(formats) == 0 {
		return nil
	}
	numWorkers := len(plan.Shares)
	if numWorkers == 0 {
		return nil
	}
	errs := make(chan error, numWorkers)
	for k := 0; k < numWorkers; k++ {
		off, share := plan.Offsets[k], plan.Shares[k]
		reportProgress := log != nil && k == numWorkers-1
		go func() {
			start := time.Now()
			for i := off; i < off+share; i++ {
				cat := catchments[i]
				for _, format := range formats {
					sink := sinkFor(outputPath, cat, format)
					if err := emit.Write(ctx, store, sink, format, i, steps, appendMode); err != nil {
						errs <- &PartialError{Catchment: cat, Cause: err}
						return
					}
				}
			}
			if reportProgress && share > 0 {
				elapsed := time.Since(start)
				log.WithFields(logrus.Fields{
					"catchments":         share,
					"elapsed":            elapsed.Round(time.Millisecond).String(),
					"catchments_per_sec": float64(share) / elapsed.Seconds(),
				}).Info("pipeline: emit worker finished")
			}
			errs <- nil
		}()
	}
	for k := 0; k < numWorkers; k++ {
		if err := <-errs; err != nil {
			return err
		}
	}
	return nil
}

// archiveGroups bundles the accumulated per-catchment series into one
// gzip-tar per VPU group, built entirely from in-memory rows: tar mode
// never writes loose per-catchment files, so there is nothing to read
// back from the output sink.
func archiveGroups(ctx context.Context, store *objstore.Store, cw *crosswalk.Crosswalk, outputPath, format string, accum map[string][]emit.Row, nprocs int) error {
	groups := cw.Groups()
	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var inputs []archive.GroupInput
	for _, label := range labels {
		members := groups[label]
		files := make(map[string][]byte)
		var order []string
		for _, cat := range members {
			name := fmt.Sprintf("%s.%s", outputBaseName(cat), format)
			data, err := encodeRows(accum[cat], format)
			if err != nil {
				return fmt.Errorf("pipeline: encoding %s for archive: %w", name, err)
			}
			files[name] = data
			order = append(order, name)
		}
		sort.Strings(order)
		dest := fmt.Sprintf("%s/forcings/%s_forcings.tar.gz", outputPath, label)
		inputs = append(inputs, archive.GroupInput{Dest: dest, Files: files, Order: order})
	}
	if nprocs <= 0 {
		nprocs = 1
	}
	return archive.RunAll(ctx, store, inputs, nprocs)
}

// PartialError reports that one catchment's emit failed mid-chunk. A
// per-catchment emit failure is fatal for the whole chunk rather than
// being skipped or retried.
type PartialError struct {
	Catchment string
	Cause     error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("pipeline: emitting catchment %s: %v", e.Catchment, e.Cause)
}
func (e *PartialError) Unwrap() error { return e.Cause }

func encodeRows(rows []emit.Row, format string) ([]byte, error) {
	switch format {
	case "csv":
		return emit.EncodeCSV(rows), nil
	case "parquet":
		return emit.EncodeParquet(rows)
	default:
		return nil, fmt.Errorf("unsupported archive member format %q", format)
	}
}
