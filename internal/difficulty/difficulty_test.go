package difficulty

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"80.8M", 80_800_000, true},
		{"50.0M", 50_000_000, true},
		{"1.5k", 1_500, true},
		{"4.29G", 4_290_000_000, true},
		{"2T", 2_000_000_000_000, true},
		{" 60.0M ", 60_000_000, true},
		{"80.8 M", 80_800_000, true},
		{"1.5\tk", 1_500, true},
		{"  M", 0, false},
		{"80.8 m", 0, false},
		{"12345", 0, false},
		{"80.8m", 0, false},
		{"80.8K", 0, false},
		{"80.8X", 0, false},
		{"M", 0, false},
		{"abcM", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got := Parse(tt.in)
		if got.OK != tt.ok {
			t.Errorf("Parse(%q).OK = %v, expected %v", tt.in, got.OK, tt.ok)
			continue
		}
		if got.Value != tt.want {
			t.Errorf("Parse(%q).Value = %v, expected %v", tt.in, got.Value, tt.want)
		}
	}
}

func TestParsePtr(t *testing.T) {
	if ParsePtr(nil).OK {
		t.Error("Expected nil to be unparsable")
	}
	s := "1.0G"
	if r := ParsePtr(&s); !r.OK || r.Value != 1e9 {
		t.Errorf("Expected 1e9, got %+v", r)
	}
}

func TestGreater(t *testing.T) {
	if !Greater(Parse("60.0M"), Parse("50.0M")) {
		t.Error("Expected 60.0M > 50.0M")
	}
	if Greater(Parse("50.0M"), Parse("60.0M")) {
		t.Error("Expected 50.0M not > 60.0M")
	}
	if Greater(Parse("60.0M"), Parse("junk")) {
		t.Error("Expected comparison with unparsable to be false")
	}
	if Greater(Parse("1.0k"), Parse("0.0k")) {
		t.Error("Expected comparison with zero to be false")
	}
}

func TestFormat(t *testing.T) {
	tests := map[float64]string{
		80_800_000:    "80.80M",
		1_500:         "1.50k",
		4_290_000_000: "4.29G",
		999:           "999",
	}
	for in, want := range tests {
		if got := Format(in); got != want {
			t.Errorf("Format(%v) = %q, expected %q", in, got, want)
		}
	}
}
