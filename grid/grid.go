// Package grid decodes NWM gridded forcing files into the fixed set of
// meteorological variables the pipeline extracts.
package grid

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ctessum/cdf"
)

// readOnlyReaderAt adapts a *bytes.Reader to cdf.ReaderWriterAt, which
// requires WriteAt even though Decode only ever reads.
type readOnlyReaderAt struct {
	*bytes.Reader
}

func (readOnlyReaderAt) WriteAt(p []byte, off int64) (int, error) {
	return 0, errors.New("readOnlyReaderAt: write not supported")
}

// Variable names in fixed input/output order. RAINRATE is read once from
// the source file and expands into two derived outputs (APCPSurface,
// PrecipRate) so the decode pass touches the variable exactly once.
const (
	IdxU2D = iota
	IdxV2D
	IdxLWDOWN
	IdxAPCPSurface
	IdxPrecipRate
	IdxT2D
	IdxQ2D
	IdxPSFC
	IdxSWDOWN
	NumVariables
)

var outputNames = [NumVariables]string{
	IdxU2D:         "UGRD_10maboveground",
	IdxV2D:         "VGRD_10maboveground",
	IdxLWDOWN:      "DLWRF_surface",
	IdxAPCPSurface: "APCP_surface",
	IdxPrecipRate:  "precip_rate",
	IdxT2D:         "TMP_2maboveground",
	IdxQ2D:         "SPFH_2maboveground",
	IdxPSFC:        "PRES_surface",
	IdxSWDOWN:      "DSWRF_surface",
}

// OutputNames returns the fixed output variable names in extraction order.
func OutputNames() [NumVariables]string { return outputNames }

// sourceVariables maps each output slot to the NWM source variable it is
// read from. RAINRATE is read once and feeds two output slots.
var sourceVariables = [NumVariables]string{
	IdxU2D:         "U2D",
	IdxV2D:         "V2D",
	IdxLWDOWN:      "LWDOWN",
	IdxAPCPSurface: "RAINRATE",
	IdxPrecipRate:  "RAINRATE",
	IdxT2D:         "T2D",
	IdxQ2D:         "Q2D",
	IdxPSFC:        "PSFC",
	IdxSWDOWN:      "SWDOWN",
}

// Record is one decoded timestep: nine variables over a YSize x XSize grid,
// row-major, plus the valid time the file carries.
type Record struct {
	Values       [NumVariables][]float32
	YSize, XSize int
	ValidTime    string
}

// Decode reads a single NWM forcing file's bytes and extracts the fixed
// variable set into a Record. RAINRATE is read once into a float32 buffer;
// APCP_surface is the identity of that buffer, and precip_rate is its
// value times 3600, so the two derived outputs trace back to the exact
// same float32 bit pattern and its documented scaling.
func Decode(data []byte) (*Record, error) {
	f, err := cdf.Open(readOnlyReaderAt{bytes.NewReader(data)})
	if err != nil {
		return nil, &DecodeError{Cause: fmt.Errorf("opening netcdf stream: %w", err)}
	}

	rec := &Record{}
	for idx, srcVar := range sourceVariables {
		if idx == IdxPrecipRate {
			// derived from the RAINRATE buffer read for IdxAPCPSurface below
			continue
		}
		dims := f.Header.Lengths(srcVar)
		if dims == nil {
			return nil, &DecodeError{Cause: fmt.Errorf("variable %s not present in file", srcVar)}
		}
		n := 1
		for _, d := range dims {
			n *= d
		}
		r := f.Reader(srcVar, nil, nil)
		raw := r.Zero(n)
		if _, err := r.Read(raw); err != nil {
			return nil, &DecodeError{Cause: fmt.Errorf("reading variable %s: %w", srcVar, err)}
		}
		buf, err := asFloat32(raw)
		if err != nil {
			return nil, &DecodeError{Cause: fmt.Errorf("variable %s: %w", srcVar, err)}
		}
		if rec.YSize == 0 && len(dims) >= 2 {
			rec.YSize, rec.XSize = dims[len(dims)-2], dims[len(dims)-1]
		}
		if idx == IdxAPCPSurface {
			rec.Values[IdxAPCPSurface] = buf
			rec.Values[IdxPrecipRate] = precipRate(buf)
			continue
		}
		rec.Values[idx] = buf
	}

	t, err := validTime(f)
	if err != nil {
		return nil, &DecodeError{Cause: err}
	}
	rec.ValidTime = t
	return rec, nil
}

// asFloat32 narrows a decoded variable buffer to []float32. NWM forcing
// variables are float32 on the wire, but a float64-packed file still
// decodes rather than failing.
func asFloat32(raw interface{}) ([]float32, error) {
	switch v := raw.(type) {
	case []float32:
		return v, nil
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported element type %T", raw)
	}
}

// precipRate derives precip_rate from the RAINRATE buffer also used
// unmodified as APCP_surface. The two outputs must stay bitwise-identical
// up to the 3600x scaling, so this is the sole place that scaling happens.
func precipRate(rainrate []float32) []float32 {
	out := make([]float32, len(rainrate))
	for i, v := range rainrate {
		out[i] = v * 3600
	}
	return out
}

const validTimeAttr = "model_output_valid_time"

// formatValidTime reformats a raw valid-time attribute value
// ("YYYYMMDD_HHMM") into "YYYYMMDD HHMM": the first two underscore-separated
// components joined by a single space. A value that does not parse as a
// date and time in that form is an error; a blank time column is never
// emitted in its place.
func formatValidTime(raw string) (string, error) {
	parts := strings.Split(raw, "_")
	if len(parts) < 2 {
		return "", fmt.Errorf("attribute %s %q is not in YYYYMMDD_HHMM form", validTimeAttr, raw)
	}
	joined := parts[0] + " " + parts[1]
	if _, err := time.Parse("20060102 1504", joined); err != nil {
		return "", fmt.Errorf("attribute %s %q is not in YYYYMMDD_HHMM form", validTimeAttr, raw)
	}
	return joined, nil
}

// validTime reads the file's valid-time attribute and reformats it with
// formatValidTime. A file without the attribute is malformed.
func validTime(f *cdf.File) (string, error) {
	a := f.Header.GetAttribute("", validTimeAttr)
	if a == nil {
		return "", fmt.Errorf("attribute %s not present in file", validTimeAttr)
	}
	s, ok := a.(string)
	if !ok {
		return "", fmt.Errorf("attribute %s is not a string", validTimeAttr)
	}
	return formatValidTime(s)
}

// DecodeError reports a malformed or incomplete forcing file.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("grid: decode error: %v", e.Cause) }
func (e *DecodeError) Unwrap() error { return e.Cause }
