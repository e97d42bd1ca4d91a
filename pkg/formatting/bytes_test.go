package formatting_test

import (
	"testing"

	"github.com/lhuarcayat/BedrockAgent/pkg/formatting"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name      string
		n         int64
		precision int
		want      string
	}{
		{"zero", 0, 2, "0 B"},
		{"under one unit", 500, 0, "500 B"},
		{"exact kilobyte", 1024, 0, "1 KB"},
		{"fractional megabyte", 1536 * 1024, 1, "1.5 MB"},
		{"gigabytes", 2 * 1024 * 1024 * 1024, 0, "2 GB"},
		{"negative precision clamps", 1024, -3, "1 KB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatting.FormatBytes(tt.n, tt.precision); got != tt.want {
				t.Errorf("FormatBytes(%d, %d) = %q, want %q", tt.n, tt.precision, got, tt.want)
			}
		})
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"bare number is bytes", "1024", 1024, false},
		{"unit without space", "512KB", 512 * 1024, false},
		{"unit with space", "100 MB", 100 * 1024 * 1024, false},
		{"fractional value", "4.5 MB", int64(4.5 * 1024 * 1024), false},
		{"lowercase unit", "10mb", 10 * 1024 * 1024, false},
		{"surrounding whitespace", "  2 GB  ", 2 * 1024 * 1024 * 1024, false},
		{"empty", "", 0, true},
		{"unit only", "MB", 0, true},
		{"unknown unit", "50QB", 0, true},
		{"negative", "-5MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatting.ParseBytes(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBytes(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseBytes(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseBytesRoundTripsFormatBytes(t *testing.T) {
	for _, n := range []int64{1024, 50 * 1024 * 1024, 1024 * 1024 * 1024} {
		formatted := formatting.FormatBytes(n, 0)
		parsed, err := formatting.ParseBytes(formatted)
		if err != nil {
			t.Fatalf("ParseBytes(%q) error: %v", formatted, err)
		}
		if parsed != n {
			t.Errorf("%d formats to %q which parses to %d", n, formatted, parsed)
		}
	}
}
