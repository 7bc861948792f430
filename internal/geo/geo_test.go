package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		a, b      Point
		want      float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         Point{Lat: 55.7558, Lon: 37.6173},
			b:         Point{Lat: 55.7558, Lon: 37.6173},
			want:      0,
			tolerance: 0.001,
		},
		{
			name:      "moscow to saint petersburg",
			a:         Point{Lat: 55.7558, Lon: 37.6173},
			b:         Point{Lat: 59.9311, Lon: 30.3609},
			want:      634000,
			tolerance: 5000,
		},
		{
			name:      "one degree of latitude at the equator",
			a:         Point{Lat: 0, Lon: 0},
			b:         Point{Lat: 1, Lon: 0},
			want:      111195,
			tolerance: 100,
		},
		{
			name:      "across the antimeridian",
			a:         Point{Lat: 0, Lon: 179.5},
			b:         Point{Lat: 0, Lon: -179.5},
			want:      111195,
			tolerance: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, Distance(tt.a, tt.b), tt.tolerance)
		})
	}
}

func TestBearing(t *testing.T) {
	t.Parallel()

	origin := Point{Lat: 0, Lon: 0}

	assert.InDelta(t, 0, Bearing(origin, Point{Lat: 1, Lon: 0}), 0.01)
	assert.InDelta(t, 90, Bearing(origin, Point{Lat: 0, Lon: 1}), 0.01)
	assert.InDelta(t, 180, Bearing(origin, Point{Lat: -1, Lon: 0}), 0.01)
	assert.InDelta(t, 270, Bearing(origin, Point{Lat: 0, Lon: -1}), 0.01)
}

func TestDestination_RoundTrip(t *testing.T) {
	t.Parallel()

	start := Point{Lat: 48.8566, Lon: 2.3522}
	for _, meters := range []float64{50, 1000, 25000} {
		dest := Destination(start, 45, meters)
		assert.InDelta(t, meters, Distance(start, dest), meters*0.001+0.01)
	}
}

func TestDestination_ZeroDistance(t *testing.T) {
	t.Parallel()

	p := Point{Lat: 10, Lon: 20}
	dest := Destination(p, 123, 0)
	assert.InDelta(t, p.Lat, dest.Lat, 1e-9)
	assert.InDelta(t, p.Lon, dest.Lon, 1e-9)
}
