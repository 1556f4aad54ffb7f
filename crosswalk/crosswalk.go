// Package crosswalk loads the catchment-to-grid-cell weight tables that
// drive the projector's area-weighted reduction.
package crosswalk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Descriptor is the ordered list of grid cells and matching weights that
// compose a single catchment's contribution from the source grid.
type Descriptor struct {
	Cells   []int
	Weights []float64
}

// Crosswalk is the union of one or more weight documents, keyed by
// catchment id, along with the VPU group each catchment was last loaded
// from.
type Crosswalk struct {
	order []string
	byCat map[string]Descriptor
	group map[string]string
}

var vpuGroupPattern = regexp.MustCompile(`VPU_([^/]+)`)

// entry mirrors the weight-file wire format: each catchment maps to a
// 2-element JSON array, [cell_indices, coverage_weights], not a named
// object, so entry decodes it positionally rather than by field name.
type entry struct {
	Cells   []int
	Weights []float64
}

func (e *entry) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("expected a 2-element [cells, weights] array: %w", err)
	}
	if err := json.Unmarshal(tuple[0], &e.Cells); err != nil {
		return fmt.Errorf("decoding cell indices: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &e.Weights); err != nil {
		return fmt.Errorf("decoding weights: %w", err)
	}
	return nil
}

// docEntry is one catchment's entry as encountered in a document's own key
// order; a Go map loses JSON object key order, so a document is decoded
// token-by-token to preserve it.
type docEntry struct {
	Cat   string
	Entry entry
}

// decodeDocument walks a weight document's JSON object keys in the order
// they appear on the wire. That order defines the catchment axis, so it
// cannot be recovered from a decoded map.
func decodeDocument(data []byte) ([]docEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a json object")
	}
	var out []docEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string catchment key")
		}
		var e entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decoding catchment %s: %w", key, err)
		}
		out = append(out, docEntry{Cat: key, Entry: e})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// Document is one weight file in the order it was configured: Name is the
// source path (used for VPU labeling), Data the raw document bytes.
type Document struct {
	Name string
	Data []byte
}

// Load unions the given weight documents, in the given order, into a single
// Crosswalk. Later documents override catchments defined by earlier ones;
// an override is logged, not treated as an error, since catchments
// legitimately reappear across VPU boundaries. The document order is the
// load order: it decides both override precedence and the catchment axis
// every downstream stage iterates in.
func Load(log logrus.FieldLogger, docs []Document) (*Crosswalk, error) {
	cw := &Crosswalk{
		byCat: make(map[string]Descriptor),
		group: make(map[string]string),
	}

	unlabeledOrdinal := 0
	for _, doc := range docs {
		name := doc.Name
		group := vpuGroup(name)
		if group == "" {
			unlabeledOrdinal++
			group = strconv.Itoa(unlabeledOrdinal)
		}
		entries, err := decodeDocument(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("crosswalk: decoding %s: %w", name, &IntegrityError{Source: name, Cause: err})
		}
		for _, de := range entries {
			cat, entry := de.Cat, de.Entry
			if len(entry.Cells) != len(entry.Weights) || len(entry.Cells) == 0 {
				return nil, &IntegrityError{Source: name, Cause: fmt.Errorf("catchment %s: %d cells vs %d weights", cat, len(entry.Cells), len(entry.Weights))}
			}
			var weightSum float64
			for _, w := range entry.Weights {
				weightSum += w
			}
			if weightSum <= 0 {
				return nil, &IntegrityError{Source: name, Cause: fmt.Errorf("catchment %s: non-positive weight sum %v", cat, weightSum)}
			}
			if _, exists := cw.byCat[cat]; exists && log != nil {
				log.WithFields(logrus.Fields{"catchment": cat, "source": name}).Warn("crosswalk: catchment overridden by later document")
			}
			if _, exists := cw.byCat[cat]; !exists {
				cw.order = append(cw.order, cat)
			}
			cw.byCat[cat] = Descriptor{Cells: entry.Cells, Weights: entry.Weights}
			cw.group[cat] = group
		}
	}
	return cw, nil
}

// vpuGroup extracts the VPU label embedded in a weight-file path, e.g.
// ".../VPU_16/weights.json" -> "VPU_16". Paths without a VPU segment return
// the empty string; Load assigns those a 1-based ordinal instead.
func vpuGroup(path string) string {
	m := vpuGroupPattern.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return "VPU_" + m[1]
}

// Catchments returns the catchment ids in load order: the order documents
// were supplied to Load in, and within a document, the order its
// catchments were first declared in. An overridden catchment keeps its
// first-appearance position. This order is the axis used by every
// downstream component (partition, extract, emit) so that the same index
// always refers to the same catchment across a run, independent of nprocs.
func (c *Crosswalk) Catchments() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Descriptor returns the grid-cell weighting for a catchment.
func (c *Crosswalk) Descriptor(catchment string) (Descriptor, bool) {
	d, ok := c.byCat[catchment]
	return d, ok
}

// Group returns the VPU group label a catchment was loaded under.
func (c *Crosswalk) Group(catchment string) string {
	return c.group[catchment]
}

// Groups returns the distinct VPU group labels present in the crosswalk,
// each mapped to its member catchments in Catchments() order.
func (c *Crosswalk) Groups() map[string][]string {
	out := make(map[string][]string)
	for _, cat := range c.order {
		g := c.group[cat]
		out[g] = append(out[g], cat)
	}
	return out
}

// IntegrityError reports a malformed or internally inconsistent weight
// document.
type IntegrityError struct {
	Source string
	Cause  error
}

func (e *IntegrityError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("crosswalk: %v", e.Cause)
	}
	return fmt.Sprintf("crosswalk: %s: %v", e.Source, e.Cause)
}

func (e *IntegrityError) Unwrap() error { return e.Cause }
