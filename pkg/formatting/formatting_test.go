package formatting_test

import (
	"strings"
	"testing"

	"github.com/JaimeStill/tally/pkg/formatting"
)

func TestParseBytes(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"bare bytes", "1024", 1024, false},
		{"megabytes", "25MB", 25 * 1024 * 1024, false},
		{"lowercase with space", "10 mb", 10 * 1024 * 1024, false},
		{"fractional", "1.5KB", 1536, false},
		{"empty", "", 0, true},
		{"unknown unit", "50XX", 0, true},
		{"negative", "-5MB", 0, true},
		{"iec suffix", "20MiB", 20 * 1024 * 1024, false},
		{"single letter", "2k", 2048, false},
		{"no number", "MB", 0, true},
		{"two dots", "1.2.3KB", 0, true},
		{"overflow", "9999999999TB", 0, true},
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

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n         int64
		precision int
		want      string
	}{
		{0, 2, "0 B"},
		{500, 0, "500 B"},
		{1536 * 1024, 1, "1.5 MB"},
		{1024, -1, "1 KB"},
		{1023, 2, "1023 B"},
		{3 << 40, 0, "3 TB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatting.FormatBytes(tt.n, tt.precision); got != tt.want {
				t.Errorf("FormatBytes(%d, %d) = %q, want %q", tt.n, tt.precision, got, tt.want)
			}
		})
	}
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Fall2025-Workload", "Fall2025-Workload"},
		{"separators", "Fall 2025 / Workload", "Fall_2025_Workload"},
		{"traversal", "../../etc/passwd", "etc_passwd"},
		{"unicode", "教师 名单.xlsx", "教师_名单.xlsx"},
		{"repeated dots", "report..final.xlsx", "report.final.xlsx"},
		{"nothing usable", "???", "untitled"},
		{"empty", "", "untitled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatting.SafeFilename(tt.in); got != tt.want {
				t.Errorf("SafeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	long := formatting.SafeFilename(strings.Repeat("a", 500))
	if len(long) > 120 {
		t.Errorf("len(SafeFilename(long)) = %d, want <= 120", len(long))
	}
}
