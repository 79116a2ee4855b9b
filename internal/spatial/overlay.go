package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
)

// Contains reports whether the geometry contains the lng/lat point.
// Polygon holes are respected.
func Contains(g geom.T, lng, lat float64) bool {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonContains(t, lng, lat)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if polygonContains(t.Polygon(i), lng, lat) {
				return true
			}
		}
	}
	return false
}

func polygonContains(p *geom.Polygon, lng, lat float64) bool {
	if p.NumLinearRings() == 0 {
		return false
	}
	if !pointInRing(p.LinearRing(0).Coords(), lng, lat) {
		return false
	}
	for i := 1; i < p.NumLinearRings(); i++ {
		if pointInRing(p.LinearRing(i).Coords(), lng, lat) {
			return false
		}
	}
	return true
}

// pointInRing uses even-odd ray casting.
func pointInRing(ring []geom.Coord, lng, lat float64) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].X(), ring[i].Y()
		xj, yj := ring[j].X(), ring[j].Y()
		if (yi > lat) != (yj > lat) &&
			lng < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// OverlapHectares computes the approximate intersection area between the
// subject geometry and a reference feature.
//
// Subject points return 0 hectares; use Contains to decide whether a point
// intersects at all. Polygon/polygon overlap clips the subject against each
// feature ring with Sutherland-Hodgman; clip rings are treated as convex,
// which holds for the simplified reference boundaries the layer loader
// produces.
func OverlapHectares(subject, feature geom.T) float64 {
	subjRings := outerRings(subject)
	featRings := outerRings(feature)
	if len(subjRings) == 0 || len(featRings) == 0 {
		return 0
	}

	var total float64
	for _, s := range subjRings {
		for _, f := range featRings {
			clipped := clipRing(s, f)
			if len(clipped) >= 3 {
				total += ringAreaSqMeters(clipped)
			}
		}
	}
	return total / 10000.0
}

// Intersects reports whether the subject geometry intersects the feature.
// Points intersect when contained; polygons when their overlap is non-zero
// or either contains a vertex of the other.
func Intersects(subject, feature geom.T) bool {
	if pt, ok := subject.(*geom.Point); ok {
		return Contains(feature, pt.X(), pt.Y())
	}
	if OverlapHectares(subject, feature) > 0 {
		return true
	}
	// Degenerate touch: vertex containment either way.
	for _, r := range outerRings(subject) {
		for _, c := range r {
			if Contains(feature, c.X(), c.Y()) {
				return true
			}
		}
	}
	for _, r := range outerRings(feature) {
		for _, c := range r {
			if Contains(subject, c.X(), c.Y()) {
				return true
			}
		}
	}
	return false
}

func outerRings(g geom.T) [][]geom.Coord {
	switch t := g.(type) {
	case *geom.Polygon:
		if t.NumLinearRings() > 0 {
			return [][]geom.Coord{t.LinearRing(0).Coords()}
		}
	case *geom.MultiPolygon:
		var rings [][]geom.Coord
		for i := 0; i < t.NumPolygons(); i++ {
			p := t.Polygon(i)
			if p.NumLinearRings() > 0 {
				rings = append(rings, p.LinearRing(0).Coords())
			}
		}
		return rings
	}
	return nil
}

// clipRing clips the subject ring against the clip ring edge by edge.
func clipRing(subject, clip []geom.Coord) []geom.Coord {
	out := closeRing(subject)
	clip = closeRing(clip)
	if len(clip) < 4 || len(out) < 4 {
		return nil
	}

	// Edges must wind counter-clockwise for the inside test.
	if shoelace(clip) < 0 {
		clip = reverseRing(clip)
	}

	for i := 0; i < len(clip)-1; i++ {
		a, b := clip[i], clip[i+1]
		input := out
		out = nil
		if len(input) == 0 {
			return nil
		}
		prev := input[len(input)-1]
		for _, cur := range input {
			if insideEdge(a, b, cur) {
				if !insideEdge(a, b, prev) {
					if p, ok := segmentIntersect(prev, cur, a, b); ok {
						out = append(out, p)
					}
				}
				out = append(out, cur)
			} else if insideEdge(a, b, prev) {
				if p, ok := segmentIntersect(prev, cur, a, b); ok {
					out = append(out, p)
				}
			}
			prev = cur
		}
	}
	return out
}

func insideEdge(a, b, p geom.Coord) bool {
	return (b.X()-a.X())*(p.Y()-a.Y())-(b.Y()-a.Y())*(p.X()-a.X()) >= 0
}

func segmentIntersect(p1, p2, a, b geom.Coord) (geom.Coord, bool) {
	d1x, d1y := p2.X()-p1.X(), p2.Y()-p1.Y()
	d2x, d2y := b.X()-a.X(), b.Y()-a.Y()
	denom := d1x*d2y - d1y*d2x
	if math.Abs(denom) < 1e-15 {
		return nil, false
	}
	t := ((a.X()-p1.X())*d2y - (a.Y()-p1.Y())*d2x) / denom
	return geom.Coord{p1.X() + t*d1x, p1.Y() + t*d1y}, true
}

func closeRing(ring []geom.Coord) []geom.Coord {
	if len(ring) < 3 {
		return ring
	}
	first, last := ring[0], ring[len(ring)-1]
	if first.X() != last.X() || first.Y() != last.Y() {
		ring = append(append([]geom.Coord{}, ring...), geom.Coord{first.X(), first.Y()})
	}
	return ring
}

func reverseRing(ring []geom.Coord) []geom.Coord {
	out := make([]geom.Coord, len(ring))
	for i, c := range ring {
		out[len(ring)-1-i] = c
	}
	return out
}
