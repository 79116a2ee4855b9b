// Package refload populates the reference-data tables: boundary layers from
// shapefiles and gazetteer villages from CSV or JSON extracts.
package refload

import (
	"context"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/spatial"
	"github.com/gramveda/claim-intake/internal/store"
)

// LayerOptions configures a shapefile layer load.
type LayerOptions struct {
	LayerType  string // forest, protected or revenue
	RegionCode string
	// NameField is the attribute holding the feature name; the first
	// attribute is used when empty or missing.
	NameField string
}

// LoadLayer reads a shapefile and upserts each feature into the layer store.
// Returns the number of features loaded.
func LoadLayer(ctx context.Context, s store.Store, shpPath string, opts LayerOptions) (int, error) {
	if opts.LayerType == "" {
		return 0, eris.New("refload: layer type is required")
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return 0, eris.Wrapf(err, "refload: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := 0
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(name, opts.NameField) {
			nameIdx = i
			break
		}
	}

	log := zap.L().With(zap.String("component", "refload"))
	loaded, skipped := 0, 0

	for reader.Next() {
		if ctx.Err() != nil {
			return loaded, eris.Wrap(ctx.Err(), "refload: layer load cancelled")
		}

		_, shape := reader.Shape()
		geometry, err := shapeGeoJSON(shape)
		if err != nil || geometry == nil {
			skipped++
			continue
		}

		name := strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		feature := &model.LayerFeature{
			LayerType:  opts.LayerType,
			Name:       name,
			RegionCode: opts.RegionCode,
			Geometry:   geometry,
		}
		if err := s.UpsertLayerFeature(ctx, feature); err != nil {
			return loaded, eris.Wrapf(err, "refload: upsert feature %q", name)
		}
		loaded++
	}

	if skipped > 0 {
		log.Debug("skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	log.Info("layer loaded",
		zap.String("layer_type", opts.LayerType),
		zap.Int("features", loaded),
	)
	return loaded, nil
}

// shapeGeoJSON converts a go-shp geometry to GeoJSON. Returns nil, nil for
// unsupported or empty shapes.
func shapeGeoJSON(shape shp.Shape) ([]byte, error) {
	var g geom.T

	switch t := shape.(type) {
	case *shp.Point:
		g = geom.NewPointFlat(geom.XY, []float64{t.X, t.Y}).SetSRID(4326)
	case *shp.Polygon:
		g = polygonToMultiPolygon(t)
	default:
		return nil, nil
	}

	if g == nil {
		return nil, nil
	}
	return spatial.Encode(g)
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Shapefile parts become independent outer rings; hole detection is not
// needed for the sliver-tolerant overlap math downstream.
func polygonToMultiPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			continue
		}
		if err := mp.Push(poly); err != nil {
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
