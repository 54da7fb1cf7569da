package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb/simplify"
)

// DefaultTolerance is the simplification tolerance in decimal degrees.
// It suits site-plan scale imagery and is not safe at every latitude or
// scale, so callers should pass a configured value.
const DefaultTolerance = 0.05

// maxHalvings bounds how far Simplify shrinks the tolerance before giving up
// and returning the input ring.
const maxHalvings = 10

// Simplify reduces vertex noise with Ramer-Douglas-Peucker while keeping the
// ring valid. When the reduction at tolerance would produce a
// self-intersecting, collapsed or collinear ring, the tolerance is halved and
// the reduction retried, down to tolerance/2^10. If no tolerance yields a
// valid ring, p is returned unchanged.
//
// Simplify is deterministic and never fails for a polygon built by
// NewPolygon. A non-positive or non-finite tolerance returns p.
func Simplify(p Polygon, tolerance float64) Polygon {
	if p.IsZero() || tolerance <= 0 || !isFinite(tolerance) {
		return p
	}

	t := tolerance
	for i := 0; i <= maxHalvings; i++ {
		if candidate, ok := reduce(p, t); ok {
			return candidate
		}
		t /= 2
	}
	return p
}

// SimplifyChecked is Simplify for polygons that may not have come from
// NewPolygon. It returns ErrDegenerateGeometry for the zero value.
func SimplifyChecked(p Polygon, tolerance float64) (Polygon, error) {
	if p.IsZero() {
		return Polygon{}, fmt.Errorf("%w: empty polygon", ErrDegenerateGeometry)
	}
	if err := validateRing(p.ring); err != nil {
		return Polygon{}, err
	}
	return Simplify(p, tolerance), nil
}

// reduce runs one Douglas-Peucker pass and reports whether the result is
// still a valid polygon.
func reduce(p Polygon, tolerance float64) (Polygon, bool) {
	// The simplifier works in place.
	ring := simplify.DouglasPeucker(tolerance).Ring(p.ring.Clone())
	if len(ring) > len(p.ring) {
		return Polygon{}, false
	}
	if err := validateRing(ring); err != nil {
		return Polygon{}, false
	}
	return Polygon{ring: ring}, true
}

// MinTolerance returns the smallest tolerance Simplify will try for t.
func MinTolerance(t float64) float64 {
	return t / math.Pow(2, maxHalvings)
}
