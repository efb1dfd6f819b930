package light

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		level    int
		hour     int
		expected Condition
	}{
		{"dark is night regardless of hour", 10, 12, Night},
		{"night at midnight", 0, 0, Night},
		{"night just below threshold", 19, 6, Night},
		{"mid level in the morning is dawn", 40, 6, Dawn},
		{"mid level in the evening is dusk", 40, 18, Dusk},
		{"mid level at 11 is dawn", 59, 11, Dawn},
		{"mid level at noon is dusk", 59, 12, Dusk},
		{"lower boundary of mid band", 20, 8, Dawn},
		{"bright is day", 90, 6, Day},
		{"bright is day at night hour", 90, 23, Day},
		{"day lower boundary", 60, 3, Day},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.level, tt.hour); got != tt.expected {
				t.Errorf("Classify(%d, %d) = %q, want %q", tt.level, tt.hour, got, tt.expected)
			}
		})
	}
}
