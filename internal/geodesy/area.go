// Package geodesy measures polygons on the WGS84 ellipsoid.
package geodesy

import (
	"fmt"
	"math"

	"github.com/tidwall/geodesic"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/geometry"
)

// SquareFeetPerSquareMeter converts square meters to square feet.
const SquareFeetPerSquareMeter = 10.7639

// Measurement is the ellipsoidal size of a polygon.
type Measurement struct {
	AreaSqM    float64
	AreaSqFt   float64
	PerimeterM float64
}

// Area returns the ellipsoidal area of p in square feet.
func Area(p geometry.Polygon) (float64, error) {
	m, err := Measure(p)
	if err != nil {
		return 0, err
	}
	return m.AreaSqFt, nil
}

// Measure computes area and perimeter of p on WGS84. The signed area is
// made absolute so winding direction does not matter.
func Measure(p geometry.Polygon) (Measurement, error) {
	if p.IsZero() {
		return Measurement{}, fmt.Errorf("%w: empty polygon", geometry.ErrInvalidGeometry)
	}

	ring := p.Ring()
	if !ring.Closed() {
		return Measurement{}, fmt.Errorf("%w: ring is not closed", geometry.ErrInvalidGeometry)
	}

	poly := geodesic.WGS84.PolygonInit(false)
	// The closing vertex is implied.
	for _, pt := range ring[:len(ring)-1] {
		poly.AddPoint(pt.Lat(), pt.Lon())
	}

	var areaSqM, perimeterM float64
	poly.Compute(false, true, &areaSqM, &perimeterM)

	if !isFinite(areaSqM) || !isFinite(perimeterM) {
		return Measurement{}, fmt.Errorf("%w: area %v and perimeter %v are not finite", geometry.ErrInvalidGeometry, areaSqM, perimeterM)
	}

	areaSqM = math.Abs(areaSqM)
	return Measurement{
		AreaSqM:    areaSqM,
		AreaSqFt:   areaSqM * SquareFeetPerSquareMeter,
		PerimeterM: perimeterM,
	}, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
