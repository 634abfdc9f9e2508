package memory

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	observation "sos-cloud/internal/observation/domain"
)

// spatialMatch evaluates a spatial operator in the plane. Within is decided
// on the vertices of the candidate, which is exact for points and convex
// filter areas.
func spatialMatch(op observation.SpatialOperator, candidate, filter orb.Geometry) (bool, error) {
	switch op {
	case observation.OpBBOX:
		return candidate.Bound().Intersects(filter.Bound()), nil
	case observation.OpWithin:
		points := vertices(candidate)
		if len(points) == 0 {
			return false, nil
		}
		for _, p := range points {
			if !containsPoint(filter, p) {
				return false, nil
			}
		}
		return true, nil
	case observation.OpIntersects:
		return intersects(candidate, filter), nil
	default:
		return false, fmt.Errorf("memory store: unsupported spatial operator %q", op)
	}
}

func intersects(a, b orb.Geometry) bool {
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}
	for _, p := range vertices(a) {
		if containsPoint(b, p) {
			return true
		}
	}
	for _, p := range vertices(b) {
		if containsPoint(a, p) {
			return true
		}
	}
	for _, sa := range segments(a) {
		for _, sb := range segments(b) {
			if segmentsCross(sa[0], sa[1], sb[0], sb[1]) {
				return true
			}
		}
	}
	return false
}

func containsPoint(g orb.Geometry, p orb.Point) bool {
	switch geom := g.(type) {
	case orb.Point:
		return geom.Equal(p)
	case orb.MultiPoint:
		for _, q := range geom {
			if q.Equal(p) {
				return true
			}
		}
		return false
	case orb.LineString, orb.MultiLineString:
		for _, s := range segments(geom) {
			if onSegment(s[0], s[1], p) {
				return true
			}
		}
		return false
	case orb.Ring:
		return planar.RingContains(geom, p)
	case orb.Polygon:
		return planar.PolygonContains(geom, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, p)
	case orb.Bound:
		return geom.Contains(p)
	case orb.Collection:
		for _, child := range geom {
			if containsPoint(child, p) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func vertices(g orb.Geometry) []orb.Point {
	switch geom := g.(type) {
	case orb.Point:
		return []orb.Point{geom}
	case orb.MultiPoint:
		return geom
	case orb.LineString:
		return geom
	case orb.Ring:
		return geom
	case orb.MultiLineString:
		var out []orb.Point
		for _, ls := range geom {
			out = append(out, ls...)
		}
		return out
	case orb.Polygon:
		var out []orb.Point
		for _, r := range geom {
			out = append(out, r...)
		}
		return out
	case orb.MultiPolygon:
		var out []orb.Point
		for _, poly := range geom {
			out = append(out, vertices(poly)...)
		}
		return out
	case orb.Bound:
		return vertices(geom.ToRing())
	case orb.Collection:
		var out []orb.Point
		for _, child := range geom {
			out = append(out, vertices(child)...)
		}
		return out
	default:
		return nil
	}
}

func segments(g orb.Geometry) [][2]orb.Point {
	var out [][2]orb.Point
	appendPath := func(path []orb.Point) {
		for i := 1; i < len(path); i++ {
			out = append(out, [2]orb.Point{path[i-1], path[i]})
		}
	}
	switch geom := g.(type) {
	case orb.LineString:
		appendPath(geom)
	case orb.Ring:
		appendPath(geom)
	case orb.MultiLineString:
		for _, ls := range geom {
			appendPath(ls)
		}
	case orb.Polygon:
		for _, r := range geom {
			appendPath(r)
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			for _, r := range poly {
				appendPath(r)
			}
		}
	case orb.Bound:
		appendPath(geom.ToRing())
	case orb.Collection:
		for _, child := range geom {
			out = append(out, segments(child)...)
		}
	}
	return out
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func onSegment(a, b, p orb.Point) bool {
	if cross(a, b, p) != 0 {
		return false
	}
	return min(a[0], b[0]) <= p[0] && p[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= p[1] && p[1] <= max(a[1], b[1])
}

func segmentsCross(a, b, c, d orb.Point) bool {
	d1 := cross(c, d, a)
	d2 := cross(c, d, b)
	d3 := cross(a, b, c)
	d4 := cross(a, b, d)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return onSegment(c, d, a) || onSegment(c, d, b) || onSegment(a, b, c) || onSegment(a, b, d)
}
