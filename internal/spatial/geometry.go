// Package spatial provides the geometry math used by the geocoding,
// duplicate-detection and conflict-detection stages. Geometries travel
// through the pipeline as GeoJSON; PostGIS does the heavy lifting on the
// postgres backend while the sqlite backend evaluates everything here.
package spatial

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

const (
	earthRadiusMeters = 6371008.8

	// metersPerDegree is the length of one degree of latitude.
	metersPerDegree = 111320.0
)

// Decode parses a GeoJSON geometry.
func Decode(raw json.RawMessage) (geom.T, error) {
	if len(raw) == 0 {
		return nil, eris.New("spatial: empty geometry")
	}
	var g geom.T
	if err := geojson.Unmarshal(raw, &g); err != nil {
		return nil, eris.Wrap(err, "spatial: decode geojson")
	}
	return g, nil
}

// Encode serializes a geometry to GeoJSON.
func Encode(g geom.T) (json.RawMessage, error) {
	data, err := geojson.Marshal(g)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: encode geojson")
	}
	return data, nil
}

// Point builds a GeoJSON point from lng/lat.
func Point(lng, lat float64) (json.RawMessage, error) {
	return Encode(geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(4326))
}

// Centroid returns the lng/lat centroid of a geometry. For points it is the
// point itself; for polygons the area-weighted ring centroid.
func Centroid(g geom.T) (lng, lat float64) {
	switch t := g.(type) {
	case *geom.Point:
		return t.X(), t.Y()
	case *geom.Polygon:
		return ringCentroid(t.LinearRing(0).Coords())
	case *geom.MultiPolygon:
		// Centroid of the largest member polygon.
		var best *geom.Polygon
		bestArea := -1.0
		for i := 0; i < t.NumPolygons(); i++ {
			p := t.Polygon(i)
			if a := math.Abs(shoelace(p.LinearRing(0).Coords())); a > bestArea {
				bestArea = a
				best = p
			}
		}
		if best != nil {
			return ringCentroid(best.LinearRing(0).Coords())
		}
	}
	return 0, 0
}

// AreaHectares computes the approximate geodesic area of a polygonal
// geometry in hectares. Points have zero area.
func AreaHectares(g geom.T) float64 {
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonAreaHectares(t)
	case *geom.MultiPolygon:
		var total float64
		for i := 0; i < t.NumPolygons(); i++ {
			total += polygonAreaHectares(t.Polygon(i))
		}
		return total
	}
	return 0
}

func polygonAreaHectares(p *geom.Polygon) float64 {
	if p.NumLinearRings() == 0 {
		return 0
	}
	area := ringAreaSqMeters(p.LinearRing(0).Coords())
	for i := 1; i < p.NumLinearRings(); i++ {
		area -= ringAreaSqMeters(p.LinearRing(i).Coords())
	}
	if area < 0 {
		area = 0
	}
	return area / 10000.0
}

// ringAreaSqMeters converts a lng/lat ring to local planar meters around its
// mean latitude and applies the shoelace formula. Accurate enough for
// parcel-scale rings.
func ringAreaSqMeters(ring []geom.Coord) float64 {
	if len(ring) < 3 {
		return 0
	}
	var meanLat float64
	for _, c := range ring {
		meanLat += c.Y()
	}
	meanLat /= float64(len(ring))
	cosLat := math.Cos(meanLat * math.Pi / 180)

	proj := make([]geom.Coord, len(ring))
	for i, c := range ring {
		proj[i] = geom.Coord{c.X() * metersPerDegree * cosLat, c.Y() * metersPerDegree}
	}
	return math.Abs(shoelace(proj))
}

// shoelace computes the signed planar area of a ring.
func shoelace(ring []geom.Coord) float64 {
	var sum float64
	n := len(ring)
	if n < 3 {
		return 0
	}
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += ring[i].X()*ring[j].Y() - ring[j].X()*ring[i].Y()
	}
	return sum / 2
}

func ringCentroid(ring []geom.Coord) (lng, lat float64) {
	a := shoelace(ring)
	if a == 0 {
		// Degenerate ring: fall back to the vertex mean.
		for _, c := range ring {
			lng += c.X()
			lat += c.Y()
		}
		n := float64(len(ring))
		if n > 0 {
			lng /= n
			lat /= n
		}
		return lng, lat
	}
	var cx, cy float64
	n := len(ring)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		cross := ring[i].X()*ring[j].Y() - ring[j].X()*ring[i].Y()
		cx += (ring[i].X() + ring[j].X()) * cross
		cy += (ring[i].Y() + ring[j].Y()) * cross
	}
	return cx / (6 * a), cy / (6 * a)
}

// HaversineMeters returns the great-circle distance between two lng/lat
// points.
func HaversineMeters(lng1, lat1, lng2, lat2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
