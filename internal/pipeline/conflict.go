package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/resilience"
	"github.com/gramveda/claim-intake/internal/spatial"
	"github.com/gramveda/claim-intake/internal/store"
)

// referenceLayers are intersected in addition to committed claim geometries.
var referenceLayers = []string{
	model.LayerForest,
	model.LayerProtected,
	model.LayerRevenue,
}

// conflict intersects the job's geometry with the reference layers and with
// other committed claims, recording every intersection with its severity.
func (e *Engine) conflict(ctx context.Context, job *model.Job) error {
	cand := job.Candidate
	if cand == nil {
		return eris.Errorf("conflict: job %s has no candidate", job.ID)
	}

	job.MaxSeverity = ""

	if len(cand.Geometry) == 0 {
		// No geometry was resolved; nothing to intersect.
		if err := e.store.ReplaceConflictRecords(ctx, job.ID, nil); err != nil {
			return resilience.Transient(eris.Wrap(err, "conflict: clear records"))
		}
		job.Stage = model.StageConflictChecked
		return nil
	}

	g, derr := spatial.Decode(cand.Geometry)
	if derr != nil {
		return malformedGeometry(derr)
	}

	// Overlap percentage is relative to the job's own area. Point
	// geometries have no area; containment counts as full overlap.
	ownArea := cand.AreaHectares
	if ownArea <= 0 {
		ownArea = spatial.AreaHectares(g)
	}

	var records []model.ConflictRecord

	appendHits := func(hits []store.Intersection, layerType string) {
		for _, hit := range hits {
			pct := 100.0
			if ownArea > 0 {
				pct = hit.OverlapHa / ownArea * 100
				if pct > 100 {
					pct = 100
				}
				if pct < 0 {
					pct = 0
				}
			}
			severity := e.classify(layerType, pct)
			records = append(records, model.ConflictRecord{
				JobID:       job.ID,
				LayerType:   layerType,
				FeatureID:   hit.FeatureID,
				FeatureName: hit.FeatureName,
				OverlapHa:   hit.OverlapHa,
				OverlapPct:  pct,
				Severity:    severity,
			})
			if job.MaxSeverity == "" || rank(severity) > rank(job.MaxSeverity) {
				job.MaxSeverity = severity
			}
		}
	}

	for _, layer := range referenceLayers {
		hits, err := e.store.IntersectLayers(ctx, cand.Geometry, layer)
		if err != nil {
			return resilience.Transient(eris.Wrapf(err, "conflict: intersect %s layer", layer))
		}
		appendHits(hits, layer)
	}

	claimHits, err := e.store.IntersectClaims(ctx, cand.Geometry, job.RegionCode, job.ID)
	if err != nil {
		return resilience.Transient(eris.Wrap(err, "conflict: intersect claims"))
	}
	appendHits(claimHits, model.LayerClaim)

	if err := e.store.ReplaceConflictRecords(ctx, job.ID, records); err != nil {
		return resilience.Transient(eris.Wrap(err, "conflict: record intersections"))
	}

	if len(records) > 0 {
		e.logger.Info("conflicts recorded",
			zap.String("job_id", job.ID),
			zap.Int("count", len(records)),
			zap.String("max_severity", string(job.MaxSeverity)))
	}

	job.Stage = model.StageConflictChecked
	return nil
}

// classify assigns the severity tier from the overlap percentage. Any
// protected-area overlap is at least medium, so it always blocks automatic
// commit no matter how small.
func (e *Engine) classify(layerType string, overlapPct float64) model.Severity {
	switch {
	case overlapPct >= e.cfg.Conflict.HighOverlapPct:
		return model.SeverityHigh
	case overlapPct >= e.cfg.Conflict.MediumOverlapPct:
		return model.SeverityMedium
	case layerType == model.LayerProtected:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func rank(s model.Severity) int {
	switch s {
	case model.SeverityHigh:
		return 3
	case model.SeverityMedium:
		return 2
	case model.SeverityLow:
		return 1
	}
	return 0
}
