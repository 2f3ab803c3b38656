package version

import (
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		input string
		major uint16
		minor uint16
	}{
		{"1.0", 1, 0},
		{"1.2", 1, 2},
		{"10.23", 10, 23},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if v.Major != tt.major {
				t.Errorf("Major = %d, want %d", v.Major, tt.major)
			}
			if v.Minor != tt.minor {
				t.Errorf("Minor = %d, want %d", v.Minor, tt.minor)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "1", "abc", "1.0.0", ".1", "1.", "70000.0"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) should fail", s)
		}
	}
}

func TestCurrentParses(t *testing.T) {
	if _, err := Parse(Current); err != nil {
		t.Fatalf("Current %q does not parse: %v", Current, err)
	}
}

func TestClientStringRoundTrip(t *testing.T) {
	v, err := ParseClientString(ClientString())
	if err != nil {
		t.Fatalf("ParseClientString: %v", err)
	}
	if v.String() != Current {
		t.Errorf("version = %s, want %s", v, Current)
	}

	if _, err := ParseClientString("libusbmuxd 2.0"); err == nil {
		t.Error("expected error for foreign client string")
	}
}
