package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func square(size float64) []orb.Point {
	return []orb.Point{{0, 0}, {size, 0}, {size, size}, {0, size}, {0, 0}}
}

func TestNewPolygon(t *testing.T) {
	tests := []struct {
		name    string
		coords  []orb.Point
		wantErr error
	}{
		{
			name:   "valid square",
			coords: square(1),
		},
		{
			name:   "valid triangle",
			coords: []orb.Point{{0, 0}, {1, 0}, {0, 1}, {0, 0}},
		},
		{
			name:    "empty ring",
			coords:  nil,
			wantErr: ErrDegenerateGeometry,
		},
		{
			name:    "not closed",
			coords:  []orb.Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
			wantErr: ErrInvalidGeometry,
		},
		{
			name:    "two distinct vertices",
			coords:  []orb.Point{{0, 0}, {1, 0}, {0, 0}},
			wantErr: ErrDegenerateGeometry,
		},
		{
			name:    "repeated vertex",
			coords:  []orb.Point{{0, 0}, {1, 0}, {1, 0}, {1, 1}, {0, 0}},
			wantErr: ErrDegenerateGeometry,
		},
		{
			name:    "collinear",
			coords:  []orb.Point{{0, 0}, {1, 0}, {2, 0}, {0, 0}},
			wantErr: ErrDegenerateGeometry,
		},
		{
			name:    "bowtie self-intersection",
			coords:  []orb.Point{{0, 0}, {1, 1}, {1, 0}, {0, 1}, {0, 0}},
			wantErr: ErrInvalidGeometry,
		},
		{
			name:    "spike folding back on adjacent edge",
			coords:  []orb.Point{{0, 0}, {2, 0}, {1, 0}, {1, 1}, {0, 0}},
			wantErr: ErrInvalidGeometry,
		},
		{
			name:    "latitude beyond pole",
			coords:  []orb.Point{{10, 95}, {10.001, 95}, {10.001, 95.001}, {10, 95}},
			wantErr: ErrInvalidGeometry,
		},
		{
			name:    "longitude beyond antimeridian",
			coords:  []orb.Point{{180.5, 0}, {181, 0}, {181, 1}, {180.5, 0}},
			wantErr: ErrInvalidGeometry,
		},
		{
			name:   "vertices on the range limits",
			coords: []orb.Point{{179.999, 89.999}, {180, 89.999}, {180, 90}, {179.999, 89.999}},
		},
		{
			name:    "NaN coordinate",
			coords:  []orb.Point{{0, 0}, {math.NaN(), 0}, {1, 1}, {0, 0}},
			wantErr: ErrInvalidGeometry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPolygon(tt.coords)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewPolygon() error = %v, want %v", err, tt.wantErr)
				}
				if !p.IsZero() {
					t.Error("expected zero polygon on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.NumVertices() != len(tt.coords) {
				t.Errorf("NumVertices() = %d, want %d", p.NumVertices(), len(tt.coords))
			}
		})
	}
}

func TestPolygonIsImmutable(t *testing.T) {
	coords := square(1)
	p, err := NewPolygon(coords)
	if err != nil {
		t.Fatalf("NewPolygon: %v", err)
	}

	// Mutating the input or a returned ring must not leak into p.
	coords[1] = orb.Point{5, 5}
	ring := p.Ring()
	ring[2] = orb.Point{9, 9}

	if got := p.Ring()[1]; got != (orb.Point{1, 0}) {
		t.Errorf("vertex 1 = %v, want [1 0]", got)
	}
	if got := p.Ring()[2]; got != (orb.Point{1, 1}) {
		t.Errorf("vertex 2 = %v, want [1 1]", got)
	}
}

func TestReverse(t *testing.T) {
	p, err := NewPolygon(square(1))
	if err != nil {
		t.Fatalf("NewPolygon: %v", err)
	}

	r := p.Reverse()
	if r.NumVertices() != p.NumVertices() {
		t.Fatalf("reverse changed vertex count: %d vs %d", r.NumVertices(), p.NumVertices())
	}
	if r.Equal(p) {
		t.Error("reversed ring should differ in order")
	}
	if !r.Reverse().Equal(p) {
		t.Error("double reverse should restore original")
	}
	if _, err := NewPolygon(r.Ring()); err != nil {
		t.Errorf("reversed ring should still be valid: %v", err)
	}
}

func TestFromPairs(t *testing.T) {
	p, err := FromPairs([][2]float64{{0, 0}, {2, 0}, {2, 2}, {0, 0}})
	if err != nil {
		t.Fatalf("FromPairs: %v", err)
	}
	pairs := p.Pairs()
	if len(pairs) != 4 || pairs[1] != [2]float64{2, 0} {
		t.Errorf("Pairs() = %v", pairs)
	}
}
