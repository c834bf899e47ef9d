package geo

import (
	"math"
	"testing"
)

func TestDistanceMeters_SamePoint(t *testing.T) {
	t.Parallel()

	if d := DistanceMeters(40.9862, 35.6479, 40.9862, 35.6479); d != 0 {
		t.Fatalf("distance between identical points = %g, want 0", d)
	}
}

func TestDistanceMeters_KnownDistances(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		want                   float64
		tolerance              float64
	}{
		{
			// One degree of latitude is ~111.19 km on a 6371 km sphere.
			name: "one degree latitude",
			lat1: 0, lng1: 0, lat2: 1, lng2: 0,
			want:      111195,
			tolerance: 10,
		},
		{
			name: "istanbul to ankara",
			lat1: 41.0082, lng1: 28.9784, lat2: 39.9334, lng2: 32.8597,
			want:      349000,
			tolerance: 5000,
		},
		{
			// ~10m offset north of a class location.
			name: "ten meters",
			lat1: 40.98620, lng1: 35.64790, lat2: 40.98629, lng2: 35.64790,
			want:      10,
			tolerance: 0.2,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := DistanceMeters(tc.lat1, tc.lng1, tc.lat2, tc.lng2)
			if math.Abs(got-tc.want) > tc.tolerance {
				t.Fatalf("DistanceMeters = %g, want %g ± %g", got, tc.want, tc.tolerance)
			}
		})
	}
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	t.Parallel()

	a := DistanceMeters(41.0, 29.0, 39.9, 32.8)
	b := DistanceMeters(39.9, 32.8, 41.0, 29.0)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("distance not symmetric: %g vs %g", a, b)
	}
}
