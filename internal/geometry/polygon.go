package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

var (
	// ErrDegenerateGeometry marks rings with fewer than 3 distinct vertices,
	// repeated vertices, or no enclosed area.
	ErrDegenerateGeometry = errors.New("degenerate geometry")

	// ErrInvalidGeometry marks rings that are not closed, self-intersect, or
	// carry non-finite or out-of-range coordinates.
	ErrInvalidGeometry = errors.New("invalid geometry")
)

// Polygon is a validated closed ring of (longitude, latitude) coordinates.
// The zero value is not a valid polygon; use NewPolygon.
type Polygon struct {
	ring orb.Ring
}

// NewPolygon validates coords and returns a Polygon.
// The ring must be closed (first vertex == last vertex), contain at least
// 3 distinct vertices with no repeats, enclose a non-zero area and not
// intersect itself. The input slice is copied.
func NewPolygon(coords []orb.Point) (Polygon, error) {
	ring := make(orb.Ring, len(coords))
	copy(ring, coords)

	if err := validateRing(ring); err != nil {
		return Polygon{}, err
	}
	return Polygon{ring: ring}, nil
}

// FromPairs builds a Polygon from [lon, lat] pairs.
func FromPairs(pairs [][2]float64) (Polygon, error) {
	coords := make([]orb.Point, len(pairs))
	for i, p := range pairs {
		coords[i] = orb.Point(p)
	}
	return NewPolygon(coords)
}

// Ring returns a copy of the closed ring.
func (p Polygon) Ring() orb.Ring {
	return p.ring.Clone()
}

// Pairs returns the ring as [lon, lat] pairs, closing vertex included.
func (p Polygon) Pairs() [][2]float64 {
	out := make([][2]float64, len(p.ring))
	for i, pt := range p.ring {
		out[i] = [2]float64(pt)
	}
	return out
}

// NumVertices returns the vertex count including the closing vertex.
func (p Polygon) NumVertices() int {
	return len(p.ring)
}

// IsZero reports whether p was not produced by NewPolygon.
func (p Polygon) IsZero() bool {
	return len(p.ring) == 0
}

// Reverse returns the same ring with the opposite winding direction.
func (p Polygon) Reverse() Polygon {
	r := p.ring.Clone()
	r.Reverse()
	return Polygon{ring: r}
}

// Orb returns the polygon as a single-ring orb.Polygon for encoders.
func (p Polygon) Orb() orb.Polygon {
	return orb.Polygon{p.ring.Clone()}
}

// Equal reports whether both polygons have identical vertices in order.
func (p Polygon) Equal(other Polygon) bool {
	return p.ring.Equal(other.ring)
}

func validateRing(ring orb.Ring) error {
	for i, pt := range ring {
		if !isFinite(pt[0]) || !isFinite(pt[1]) {
			return fmt.Errorf("%w: vertex %d has non-finite coordinates", ErrInvalidGeometry, i)
		}
		if math.Abs(pt.Lon()) > 180 || math.Abs(pt.Lat()) > 90 {
			return fmt.Errorf("%w: vertex %d (%v, %v) is outside lon [-180,180] lat [-90,90]", ErrInvalidGeometry, i, pt.Lon(), pt.Lat())
		}
	}

	if len(ring) < 2 {
		return fmt.Errorf("%w: ring has %d vertices, need at least 3 distinct", ErrDegenerateGeometry, len(ring))
	}
	if !ring.Closed() {
		return fmt.Errorf("%w: ring is not closed", ErrInvalidGeometry)
	}

	// Every vertex except the closing one must be unique.
	open := ring[:len(ring)-1]
	seen := make(map[orb.Point]int, len(open))
	for i, pt := range open {
		if j, dup := seen[pt]; dup {
			return fmt.Errorf("%w: vertex %d duplicates vertex %d", ErrDegenerateGeometry, i, j)
		}
		seen[pt] = i
	}
	if len(open) < 3 {
		return fmt.Errorf("%w: ring has %d distinct vertices, need at least 3", ErrDegenerateGeometry, len(open))
	}

	if collinear(open) {
		return fmt.Errorf("%w: ring is collinear and encloses no area", ErrDegenerateGeometry)
	}

	if i, j, ok := firstSelfIntersection(ring); ok {
		return fmt.Errorf("%w: edge %d intersects edge %d", ErrInvalidGeometry, i, j)
	}

	if planar.Area(ring) == 0 {
		return fmt.Errorf("%w: ring encloses no area", ErrDegenerateGeometry)
	}
	return nil
}

// collinear reports whether every vertex lies on the line through the first two.
func collinear(pts []orb.Point) bool {
	for _, pt := range pts[2:] {
		if cross(pts[0], pts[1], pt) != 0 {
			return false
		}
	}
	return true
}

// firstSelfIntersection returns the indexes of the first pair of
// non-adjacent edges that touch or cross. Edge i runs from ring[i] to ring[i+1].
func firstSelfIntersection(ring orb.Ring) (int, int, bool) {
	n := len(ring) - 1 // edge count
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// Adjacent edges share a vertex; so do the first and last edge.
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return i, j, true
			}
		}
	}

	// Adjacent edges may still fold back over each other.
	for i := 0; i < n; i++ {
		a, b, c := ring[i], ring[i+1], ring[(i+2)%n]
		if cross(a, b, c) == 0 && dot(b, a, c) > 0 {
			return i, (i + 1) % n, true
		}
	}
	return 0, 0, false
}

// segmentsIntersect reports whether segments p1p2 and q1q2 share any point.
func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}

// cross is the z component of (b-a) x (c-a).
func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// dot is (a-b) . (c-b); positive when a and c lie on the same side of b.
func dot(a, b, c orb.Point) float64 {
	return (a[0]-b[0])*(c[0]-b[0]) + (a[1]-b[1])*(c[1]-b[1])
}

// onSegment assumes p is collinear with ab.
func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
