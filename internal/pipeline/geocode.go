package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/spatial"
)

// Confidence adjustments applied by geocoding. The match-quality blend keeps
// the score monotone in gazetteer confidence; the discrepancy penalty is
// flat.
const (
	geocodeBlendFloor  = 0.7
	discrepancyPenalty = 10
)

// geocode resolves the village reference through the gazetteer and settles
// the job's geometry: extracted coordinates validated against the village
// boundary, or the village centroid as an approximate placeholder.
func (e *Engine) geocode(ctx context.Context, job *model.Job) error {
	payload := job.EffectivePayload()
	cand := job.Candidate
	if cand == nil {
		// A claimed geocoded-stage job always has a candidate; recover by
		// rebuilding it.
		if err := e.normalize(job); err != nil {
			return err
		}
		cand = job.Candidate
	}

	log := e.logger.With(zap.String("job_id", job.ID))

	res, err := e.resolver.Resolve(ctx,
		payload.Village.Value,
		cand.Hierarchy.State,
		cand.Hierarchy.District,
		cand.Hierarchy.Block,
	)
	if err != nil {
		return err
	}

	matchConfidence := 0.0
	if res != nil {
		matchConfidence = res.Confidence
		cand.Hierarchy = res.Hierarchy
	} else {
		log.Info("village unresolved, keeping payload hierarchy",
			zap.String("village", payload.Village.Value))
	}
	cand.GeocodeConfidence = matchConfidence

	hasCoords := false
	var lat, lng float64
	if payload.Coordinates.Present() {
		if la, ln, perr := parseCoordinates(payload.Coordinates.Value); perr == nil {
			lat, lng = la, ln
			hasCoords = true
		}
	}

	switch {
	case hasCoords:
		pt, perr := spatial.Point(lng, lat)
		if perr != nil {
			return malformedGeometry(perr)
		}
		cand.Geometry = pt

		// Point-in-polygon check against the resolved boundary. Outside is
		// a discrepancy, not a hard failure.
		if res != nil && len(res.Village.Boundary) > 0 {
			boundary, derr := spatial.Decode(res.Village.Boundary)
			if derr != nil {
				return malformedGeometry(derr)
			}
			if !spatial.Contains(boundary, lng, lat) {
				job.Flags.GeocodingDiscrepancy = true
				job.Confidence -= discrepancyPenalty
				log.Info("coordinates outside village boundary",
					zap.Float64("lat", lat), zap.Float64("lng", lng),
					zap.String("village", cand.Hierarchy.Village))
			}
		}

	case res != nil:
		// No extracted coordinates: substitute the village centroid and
		// flag the approximation.
		pt, perr := spatial.Point(res.Village.CentroidLng, res.Village.CentroidLat)
		if perr != nil {
			return malformedGeometry(perr)
		}
		cand.Geometry = pt
		job.Flags.ApproximateLocation = true

	default:
		// Neither coordinates nor a gazetteer match; the job continues with
		// no geometry and the spatial checks become no-ops.
		job.Flags.ApproximateLocation = true
	}

	job.Confidence *= geocodeBlendFloor + (1-geocodeBlendFloor)*matchConfidence
	if job.Confidence < 0 {
		job.Confidence = 0
	}

	job.Stage = model.StageGeocoded
	return nil
}
