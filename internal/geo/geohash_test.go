package geo

import "testing"

func TestEncodeGeohash(t *testing.T) {
	tests := []struct {
		name      string
		point     Point
		precision int
		want      string
	}{
		{
			name:      "buenos aires centro",
			point:     Point{Lat: -34.6037, Lng: -58.3816},
			precision: 6,
			want:      "69y7pk",
		},
		{
			name:      "origin",
			point:     Point{Lat: 0, Lng: 0},
			precision: 5,
			want:      "7zzzz",
		},
		{
			name:      "precision below one falls back to default",
			point:     Point{Lat: -34.6037, Lng: -58.3816},
			precision: 0,
			want:      "69y7pk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeGeohash(tt.point, tt.precision); got != tt.want {
				t.Errorf("EncodeGeohash() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeGeohash_PrefixStability(t *testing.T) {
	// A longer geohash of the same point must extend the shorter one.
	p := Point{Lat: -34.6037, Lng: -58.3816}
	short := EncodeGeohash(p, 5)
	long := EncodeGeohash(p, 9)
	if long[:5] != short {
		t.Errorf("geohash prefix mismatch: %q not a prefix of %q", short, long)
	}
}

func TestTruncateGeohash(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		precision int
		want      string
	}{
		{name: "truncates to precision", input: "69y7pkxfc", precision: 6, want: "69y7pk"},
		{name: "shorter than precision", input: "69y", precision: 6, want: "69y"},
		{name: "uppercase normalized", input: "69Y7PK", precision: 4, want: "69y7"},
		{name: "invalid characters rejected", input: "69a7pk", precision: 6, want: ""},
		{name: "empty input", input: "", precision: 6, want: ""},
		{name: "zero precision", input: "69y7pk", precision: 0, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateGeohash(tt.input, tt.precision); got != tt.want {
				t.Errorf("TruncateGeohash(%q, %d) = %q, want %q", tt.input, tt.precision, got, tt.want)
			}
		})
	}
}
