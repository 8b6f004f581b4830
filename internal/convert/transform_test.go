package convert

import "testing"

func TestTransforms(t *testing.T) {
	tests := []struct {
		name  string
		chain []string
		input string
		want  string
	}{
		{"digits phone", []string{"digits"}, "(555) 123-4567", "5551234567"},
		{"digits license", []string{"digits"}, "LIC-00123", "00123"},
		{"strip quotes", []string{"strip_quotes"}, `"Little ""Stars"" Daycare"`, "Little Stars Daycare"},
		{"collapse", []string{"collapse_spaces"}, "  Bright \t Futures  ", "Bright Futures"},
		{"upper", []string{"upper"}, "tx", "TX"},
		{"state name", []string{"us_state"}, "new york", "NY"},
		{"state code", []string{"us_state"}, "ca", "CA"},
		{"unknown state", []string{"us_state"}, "Ontario", "Ontario"},
		{"excel formula", []string{"excel"}, `="00123"`, "00123"},
		{"currency", []string{"currency"}, "$1,234.50", "1234.50"},
		{"accounting negative", []string{"currency"}, "($12.00)", "-12.00"},
		{"chain order", []string{"strip_quotes", "lower", "collapse_spaces"}, `"A  B"`, "a b"},
		{"unknown skipped", []string{"nope", "trim"}, " x ", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyTransforms(tt.input, tt.chain); got != tt.want {
				t.Errorf("ApplyTransforms(%q, %v) = %q, want %q", tt.input, tt.chain, got, tt.want)
			}
		})
	}
}

func TestLookupTransform(t *testing.T) {
	for _, name := range TransformNames() {
		if _, ok := LookupTransform(name); !ok {
			t.Errorf("LookupTransform(%q) not found", name)
		}
	}
	if _, ok := LookupTransform("reverse"); ok {
		t.Error("LookupTransform(\"reverse\") found, want missing")
	}
}
