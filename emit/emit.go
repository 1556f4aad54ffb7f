// Package emit writes projected catchment timeseries out as CSV or
// Parquet, appending to existing sinks when a chunked run requires it.
package emit

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"

	pq "github.com/parquet-go/parquet-go"

	"github.com/hydroforcing/forcingprocessor/extract"
	"github.com/hydroforcing/forcingprocessor/grid"
	"github.com/hydroforcing/forcingprocessor/objstore"
)

// Row is one catchment-timestep record in the shape Parquet and CSV both
// serialize.
type Row struct {
	Time               string  `parquet:"time"`
	UGRD10maboveground float32 `parquet:"UGRD_10maboveground"`
	VGRD10maboveground float32 `parquet:"VGRD_10maboveground"`
	DLWRFSurface       float32 `parquet:"DLWRF_surface"`
	APCPSurface        float32 `parquet:"APCP_surface"`
	PrecipRate         float32 `parquet:"precip_rate"`
	TMP2maboveground   float32 `parquet:"TMP_2maboveground"`
	SPFH2maboveground  float32 `parquet:"SPFH_2maboveground"`
	PRESSurface        float32 `parquet:"PRES_surface"`
	DSWRFSurface       float32 `parquet:"DSWRF_surface"`
}

// RowsFor builds the full timeseries rows for one catchment out of a
// chunk's ordered extraction results, for callers (e.g. the archiver) that
// need the rows without going through Write's object-store round trip.
func RowsFor(catchmentIdx int, steps []extract.TimeStep) []Row {
	return rowsFor(catchmentIdx, steps)
}

func rowsFor(catchmentIdx int, steps []extract.TimeStep) []Row {
	rows := make([]Row, len(steps))
	for i, step := range steps {
		rows[i] = Row{
			Time:               step.ValidTime,
			UGRD10maboveground: step.Values[grid.IdxU2D][catchmentIdx],
			VGRD10maboveground: step.Values[grid.IdxV2D][catchmentIdx],
			DLWRFSurface:       step.Values[grid.IdxLWDOWN][catchmentIdx],
			APCPSurface:        step.Values[grid.IdxAPCPSurface][catchmentIdx],
			PrecipRate:         step.Values[grid.IdxPrecipRate][catchmentIdx],
			TMP2maboveground:   step.Values[grid.IdxT2D][catchmentIdx],
			SPFH2maboveground:  step.Values[grid.IdxQ2D][catchmentIdx],
			PRESSurface:        step.Values[grid.IdxPSFC][catchmentIdx],
			DSWRFSurface:       step.Values[grid.IdxSWDOWN][catchmentIdx],
		}
	}
	return rows
}

var csvHeader = append([]string{"time"}, func() []string {
	names := grid.OutputNames()
	return names[:]
}()...)

// EncodeCSV serializes rows to the same csv shape Write uses, for callers
// that need to build a member of a tar bundle without writing to a sink.
func EncodeCSV(rows []Row) []byte { return encodeCSV(rows) }

// EncodeParquet serializes rows to the same parquet shape Write uses.
func EncodeParquet(rows []Row) ([]byte, error) { return encodeParquet(rows) }

func encodeCSV(rows []Row) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write(csvHeader)
	for _, r := range rows {
		w.Write([]string{
			r.Time,
			formatFloat(r.UGRD10maboveground), formatFloat(r.VGRD10maboveground), formatFloat(r.DLWRFSurface),
			formatFloat(r.APCPSurface), formatFloat(r.PrecipRate), formatFloat(r.TMP2maboveground),
			formatFloat(r.SPFH2maboveground), formatFloat(r.PRESSurface), formatFloat(r.DSWRFSurface),
		})
	}
	w.Flush()
	return buf.Bytes()
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

func decodeCSV(data []byte) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(data))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("emit: decoding existing csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(csvHeader) {
			continue
		}
		row := Row{Time: rec[0]}
		vals := make([]float32, 0, 9)
		for _, s := range rec[1:] {
			f, _ := strconv.ParseFloat(s, 32)
			vals = append(vals, float32(f))
		}
		row.UGRD10maboveground, row.VGRD10maboveground, row.DLWRFSurface = vals[0], vals[1], vals[2]
		row.APCPSurface, row.PrecipRate, row.TMP2maboveground = vals[3], vals[4], vals[5]
		row.SPFH2maboveground, row.PRESSurface, row.DSWRFSurface = vals[6], vals[7], vals[8]
		rows = append(rows, row)
	}
	return rows, nil
}

func encodeParquet(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := pq.NewGenericWriter[Row](&buf)
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("emit: encoding parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("emit: closing parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeParquet(data []byte) ([]Row, error) {
	file, err := pq.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("emit: opening existing parquet: %w", err)
	}
	r := pq.NewGenericReader[Row](file)
	defer r.Close()
	rows := make([]Row, file.NumRows())
	n, err := r.Read(rows)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("emit: reading existing parquet: %w", err)
	}
	return rows[:n], nil
}

// Write serializes one catchment's timeseries in the given format and
// writes it to sink via store. When append is true and an object already
// exists at sink, the existing rows are decoded, the new rows concatenated,
// and the whole object re-encoded and rewritten: an append is a full
// read-modify-write cycle, since neither format supports partial updates.
func Write(ctx context.Context, store *objstore.Store, sink, format string, catchmentIdx int, steps []extract.TimeStep, appendMode bool) error {
	rows := rowsFor(catchmentIdx, steps)

	if appendMode {
		existing, err := store.Open(ctx, sink)
		switch {
		case err == nil:
			var prior []Row
			var decodeErr error
			switch format {
			case "csv":
				prior, decodeErr = decodeCSV(existing)
			case "parquet":
				prior, decodeErr = decodeParquet(existing)
			default:
				return fmt.Errorf("emit: unsupported format %q", format)
			}
			if decodeErr != nil {
				return fmt.Errorf("emit: decoding existing sink %s for append: %w", sink, decodeErr)
			}
			rows = append2(prior, rows)
		default:
			var nf *objstore.NotFoundError
			if errors.As(err, &nf) {
				return &AppendMissingError{Sink: sink, Cause: err}
			}
			return fmt.Errorf("emit: checking existing sink %s: %w", sink, err)
		}
	}

	var data []byte
	var err error
	switch format {
	case "csv":
		data = encodeCSV(rows)
	case "parquet":
		data, err = encodeParquet(rows)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("emit: unsupported format %q", format)
	}

	if err := store.Put(ctx, sink, data); err != nil {
		return fmt.Errorf("emit: writing sink %s: %w", sink, err)
	}
	return nil
}

func append2(a, b []Row) []Row {
	out := make([]Row, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// AppendMissingError reports that an append was requested but no object
// exists at the sink to append to.
type AppendMissingError struct {
	Sink  string
	Cause error
}

func (e *AppendMissingError) Error() string {
	return fmt.Sprintf("emit: cannot append to %s: %v", e.Sink, e.Cause)
}
func (e *AppendMissingError) Unwrap() error { return e.Cause }
