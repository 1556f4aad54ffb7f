package crosswalk

import (
	"encoding/json"
	"reflect"
	"testing"
)

// doc builds a raw JSON document in the [cells, weights] tuple shape the
// crosswalk-construction collaborator emits: catchment id -> 2-element array.
func doc(t *testing.T, entries map[string][2]interface{}) []byte {
	t.Helper()
	raw := make(map[string][2]interface{}, len(entries))
	for cat, e := range entries {
		raw[cat] = e
	}
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("building test document: %v", err)
	}
	return data
}

func TestLoadUnionsSingleDocument(t *testing.T) {
	data := doc(t, map[string][2]interface{}{
		"cat-1": {[]int{0, 1}, []float64{1, 1}},
		"cat-2": {[]int{2}, []float64{2}},
	})
	cw, err := Load(nil, []Document{{Name: "weights.json", Data: data}})
	if err != nil {
		t.Fatal(err)
	}
	got := cw.Catchments()
	want := []string{"cat-1", "cat-2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Catchments() = %v, want %v", got, want)
	}
	d, ok := cw.Descriptor("cat-1")
	if !ok || !reflect.DeepEqual(d.Cells, []int{0, 1}) {
		t.Errorf("Descriptor(cat-1) = %+v, ok=%v", d, ok)
	}
}

// Two documents with an overlapping key: the later document's descriptor
// wins the union.
func TestLoadOverride(t *testing.T) {
	docA := doc(t, map[string][2]interface{}{"cat-1": {[]int{0}, []float64{1}}})
	docB := doc(t, map[string][2]interface{}{"cat-1": {[]int{1}, []float64{9}}})
	cw, err := Load(nil, []Document{
		{Name: "a/weights.json", Data: docA},
		{Name: "b/weights.json", Data: docB},
	})
	if err != nil {
		t.Fatal(err)
	}
	d, ok := cw.Descriptor("cat-1")
	if !ok {
		t.Fatal("cat-1 missing after union")
	}
	if !reflect.DeepEqual(d, Descriptor{Cells: []int{1}, Weights: []float64{9}}) {
		t.Errorf("Descriptor(cat-1) = %+v, want the second document's descriptor", d)
	}
}

// Override precedence follows the supplied document order, not any
// lexical ordering of source names: here the later document sorts first
// by name but must still win.
func TestLoadOverridePrecedenceIsListOrder(t *testing.T) {
	first := doc(t, map[string][2]interface{}{
		"cat-1": {[]int{0}, []float64{1}},
		"cat-2": {[]int{1}, []float64{1}},
	})
	second := doc(t, map[string][2]interface{}{"cat-1": {[]int{2}, []float64{5}}})
	cw, err := Load(nil, []Document{
		{Name: "z/weights.json", Data: first},
		{Name: "a/weights.json", Data: second},
	})
	if err != nil {
		t.Fatal(err)
	}
	d, _ := cw.Descriptor("cat-1")
	if !reflect.DeepEqual(d, Descriptor{Cells: []int{2}, Weights: []float64{5}}) {
		t.Errorf("Descriptor(cat-1) = %+v, want the list-last document's descriptor", d)
	}
	// The overridden catchment keeps its first-appearance position on the axis.
	if got := cw.Catchments(); !reflect.DeepEqual(got, []string{"cat-1", "cat-2"}) {
		t.Errorf("Catchments() = %v, want [cat-1 cat-2]", got)
	}
}

func TestLoadRejectsMismatchedLengths(t *testing.T) {
	data := doc(t, map[string][2]interface{}{"cat-1": {[]int{0, 1}, []float64{1}}})
	if _, err := Load(nil, []Document{{Name: "weights.json", Data: data}}); err == nil {
		t.Fatal("expected an IntegrityError for mismatched cells/weights lengths")
	}
}

func TestLoadRejectsZeroWeightSum(t *testing.T) {
	data := doc(t, map[string][2]interface{}{"cat-1": {[]int{0, 1}, []float64{0, 0}}})
	if _, err := Load(nil, []Document{{Name: "weights.json", Data: data}}); err == nil {
		t.Fatal("expected an IntegrityError for a zero weight sum")
	}
}

// Two VPU groups with distinct catchment membership, inferred from the
// weight-file path.
func TestGroupsByVPU(t *testing.T) {
	docA := doc(t, map[string][2]interface{}{
		"cat-1": {[]int{0}, []float64{1}},
		"cat-2": {[]int{1}, []float64{1}},
	})
	docB := doc(t, map[string][2]interface{}{"cat-3": {[]int{2}, []float64{1}}})
	cw, err := Load(nil, []Document{
		{Name: "s3://bucket/VPU_01/weights.json", Data: docA},
		{Name: "s3://bucket/VPU_02/weights.json", Data: docB},
	})
	if err != nil {
		t.Fatal(err)
	}
	groups := cw.Groups()
	if !reflect.DeepEqual(groups["VPU_01"], []string{"cat-1", "cat-2"}) {
		t.Errorf("VPU_01 group = %v", groups["VPU_01"])
	}
	if !reflect.DeepEqual(groups["VPU_02"], []string{"cat-3"}) {
		t.Errorf("VPU_02 group = %v", groups["VPU_02"])
	}
}

func TestGroupsAssignsOrdinalsToUnlabeledDocuments(t *testing.T) {
	docA := doc(t, map[string][2]interface{}{"cat-1": {[]int{0}, []float64{1}}})
	docB := doc(t, map[string][2]interface{}{"cat-2": {[]int{1}, []float64{1}}})
	cw, err := Load(nil, []Document{
		{Name: "a/weights.json", Data: docA},
		{Name: "b/weights.json", Data: docB},
	})
	if err != nil {
		t.Fatal(err)
	}
	groups := cw.Groups()
	if len(groups) != 2 {
		t.Fatalf("expected 2 distinct ordinal groups for unlabeled documents, got %v", groups)
	}
}
