package discovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// Spatial operators supported by the geo predicate.
const (
	spatialWithin     = "within"
	spatialContains   = "contains"
	spatialIntersects = "intersects"
)

// locAttribute is the location attribute evaluated against the predicate:
// {"typ": "Point"|"Polygon", "crd": "<json coordinate array>"}.
const locAttribute = "loc"

// geoPredicate evaluates one spatial condition from the filter criteria.
type geoPredicate struct {
	operator string
	geometry geometry
}

// geometry is a parsed Point or Polygon.
type geometry struct {
	polygon bool
	points  [][2]float64
}

// newGeoPredicate parses the filter geometry. Unknown geometry types and
// operators are client faults.
func newGeoPredicate(gmty, geom, gsp string) (*geoPredicate, error) {
	op := strings.ToLower(gsp)
	switch op {
	case spatialWithin, spatialContains, spatialIntersects:
	default:
		return nil, fmt.Errorf("unknown spatial operator %q: %w", gsp, onem2m.ErrBadRequest)
	}
	g, err := parseGeometry(gmty, geom)
	if err != nil {
		return nil, err
	}
	return &geoPredicate{operator: op, geometry: g}, nil
}

// matches evaluates the resource's loc attribute against the predicate.
// Resources without a location never match a geo condition.
func (p *geoPredicate) matches(res *resource.Resource) bool {
	loc, ok := res.Attributes[locAttribute].(map[string]any)
	if !ok {
		return false
	}
	typ, _ := loc["typ"].(string)
	crd, _ := loc["crd"].(string)
	target, err := parseGeometry(typ, crd)
	if err != nil {
		return false
	}

	switch p.operator {
	case spatialWithin:
		return within(target, p.geometry)
	case spatialContains:
		return within(p.geometry, target)
	case spatialIntersects:
		return bboxOverlap(target, p.geometry)
	default:
		return false
	}
}

// parseGeometry decodes a coordinate array: [x,y] for a point,
// [[x,y],...] for a polygon ring.
func parseGeometry(typ, coords string) (geometry, error) {
	switch strings.ToLower(typ) {
	case "point":
		var pt [2]float64
		if err := json.Unmarshal([]byte(coords), &pt); err != nil {
			return geometry{}, fmt.Errorf("invalid point coordinates %q: %w", coords, onem2m.ErrBadRequest)
		}
		return geometry{points: [][2]float64{pt}}, nil
	case "polygon":
		var ring [][2]float64
		if err := json.Unmarshal([]byte(coords), &ring); err != nil || len(ring) < 3 {
			return geometry{}, fmt.Errorf("invalid polygon coordinates %q: %w", coords, onem2m.ErrBadRequest)
		}
		return geometry{polygon: true, points: ring}, nil
	default:
		return geometry{}, fmt.Errorf("unknown geometry type %q: %w", typ, onem2m.ErrBadRequest)
	}
}

// within reports whether every point of a lies inside b (b must be a
// polygon; a point is within a polygon by ray casting).
func within(a, b geometry) bool {
	if !b.polygon {
		return false
	}
	for _, pt := range a.points {
		if !pointInPolygon(pt, b.points) {
			return false
		}
	}
	return true
}

// pointInPolygon is the even-odd ray casting test.
func pointInPolygon(pt [2]float64, ring [][2]float64) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > pt[1]) != (yj > pt[1]) &&
			pt[0] < (xj-xi)*(pt[1]-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// bboxOverlap approximates intersection by bounding-box overlap.
func bboxOverlap(a, b geometry) bool {
	aMinX, aMinY, aMaxX, aMaxY := bbox(a)
	bMinX, bMinY, bMaxX, bMaxY := bbox(b)
	return aMinX <= bMaxX && bMinX <= aMaxX && aMinY <= bMaxY && bMinY <= aMaxY
}

func bbox(g geometry) (minX, minY, maxX, maxY float64) {
	minX, minY = g.points[0][0], g.points[0][1]
	maxX, maxY = minX, minY
	for _, pt := range g.points[1:] {
		if pt[0] < minX {
			minX = pt[0]
		}
		if pt[0] > maxX {
			maxX = pt[0]
		}
		if pt[1] < minY {
			minY = pt[1]
		}
		if pt[1] > maxY {
			maxY = pt[1]
		}
	}
	return minX, minY, maxX, maxY
}
