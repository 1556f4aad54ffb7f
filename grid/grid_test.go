package grid

import "testing"

// precip_rate must equal 3600 * APCP_surface bitwise-exactly in float32,
// for every element.
func TestPrecipRateDuality(t *testing.T) {
	rainrate := []float32{0, 1, 0.5, 123.456}
	got := precipRate(rainrate)
	for i, v := range rainrate {
		want := v * 3600
		if got[i] != want {
			t.Errorf("precipRate()[%d] = %v, want %v", i, got[i], want)
		}
	}
}

func TestFormatValidTime(t *testing.T) {
	cases := []struct{ raw, want string }{
		{"20230101_0000", "20230101 0000"},
		{"20230101_1230", "20230101 1230"},
		{"20230101_1230_UTC", "20230101 1230"},
	}
	for _, c := range cases {
		got, err := formatValidTime(c.raw)
		if err != nil {
			t.Errorf("formatValidTime(%q): %v", c.raw, err)
			continue
		}
		if got != c.want {
			t.Errorf("formatValidTime(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

// A valid-time attribute that does not parse as YYYYMMDD_HHMM is a decode
// failure, never a blank time column.
func TestFormatValidTimeRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "malformed", "20230101", "20231301_0000", "20230101_2460", "2023-01-01_12:30"} {
		if _, err := formatValidTime(raw); err == nil {
			t.Errorf("formatValidTime(%q): expected an error", raw)
		}
	}
}

func TestOutputNamesFixedOrder(t *testing.T) {
	want := [NumVariables]string{
		"UGRD_10maboveground", "VGRD_10maboveground", "DLWRF_surface",
		"APCP_surface", "precip_rate", "TMP_2maboveground",
		"SPFH_2maboveground", "PRES_surface", "DSWRF_surface",
	}
	if got := OutputNames(); got != want {
		t.Errorf("OutputNames() = %v, want %v", got, want)
	}
}

func TestSourceVariablesRainrateDuplicated(t *testing.T) {
	if sourceVariables[IdxAPCPSurface] != "RAINRATE" || sourceVariables[IdxPrecipRate] != "RAINRATE" {
		t.Errorf("expected RAINRATE to source both APCP_surface and precip_rate, got %v", sourceVariables)
	}
}
