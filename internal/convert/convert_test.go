package convert

import "testing"

func TestToInt(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		fallback int
		want     int
	}{
		{"int", 42, 0, 42},
		{"int32", int32(42), 0, 42},
		{"int64", int64(42), 0, 42},
		{"uint", uint(42), 0, 42},
		{"uint64", uint64(42), 0, 42},
		{"float32", float32(42.9), 0, 42},
		{"float64 from yaml", float64(42.9), 0, 42},
		{"string valid", "42", 0, 42},
		{"string padded", " 7 ", 0, 7},
		{"string invalid", "abc", 99, 99},
		{"nil", nil, 99, 99},
		{"negative int", -5, 0, -5},
		{"empty string", "", 99, 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToInt(tt.input, tt.fallback); got != tt.want {
				t.Errorf("ToInt(%v, %d) = %v, want %v", tt.input, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestToBool(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		fallback bool
		want     bool
	}{
		{"true", true, false, true},
		{"false", false, true, false},
		{"string false", "false", true, false},
		{"string one", "1", false, true},
		{"string garbage", "maybe", true, true},
		{"nil", nil, true, true},
		{"zero", 0, true, false},
		{"float", float64(2), false, true},
		{"unsupported", []int{1}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToBool(tt.input, tt.fallback); got != tt.want {
				t.Errorf("ToBool(%v, %v) = %v, want %v", tt.input, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestLookupBool(t *testing.T) {
	cfg := map[string]any{"on": "false", "count": 3}
	if LookupBool(cfg, "on", true) {
		t.Errorf("LookupBool on = true")
	}
	if !LookupBool(cfg, "count", false) {
		t.Errorf("LookupBool count = false")
	}
	if !LookupBool(cfg, "missing", true) {
		t.Errorf("LookupBool missing = false")
	}
	if !LookupBool(nil, "on", true) {
		t.Errorf("LookupBool nil = false")
	}
}
