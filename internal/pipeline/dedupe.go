package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gramveda/claim-intake/internal/gazetteer"
	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/resilience"
	"github.com/gramveda/claim-intake/internal/spatial"
)

// Signal strengths for the combined duplicate probability. An exact
// claim-number match is conclusive on its own; the fuzzy signals only ever
// add to it (noisy-OR), keeping the combined score monotone in each signal.
const (
	nameSignalWeight      = 0.7
	proximitySignalWeight = 0.6
)

// dedupe scores the job against committed claims in the same region and
// records every candidate above the disclosure threshold so reviewers see
// near-misses too.
func (e *Engine) dedupe(ctx context.Context, job *model.Job) error {
	cand := job.Candidate
	if cand == nil {
		return eris.Errorf("dedupe: job %s has no candidate", job.ID)
	}

	committed, err := e.store.ListCommittedInRegion(ctx, job.RegionCode)
	if err != nil {
		return resilience.Transient(eris.Wrap(err, "dedupe: list committed claims"))
	}

	var jobLng, jobLat float64
	hasCentroid := false
	if len(cand.Geometry) > 0 {
		g, derr := spatial.Decode(cand.Geometry)
		if derr != nil {
			return malformedGeometry(derr)
		}
		jobLng, jobLat = spatial.Centroid(g)
		hasCentroid = true
	}

	var candidates []model.DuplicateCandidate
	var maxProbability float64

	for _, c := range committed {
		if c.JobID == job.ID {
			continue
		}

		ev := model.MatchEvidence{CentroidMeters: -1}

		pNumber := 0.0
		if cand.ClaimNumber != "" &&
			strings.EqualFold(cand.ClaimNumber, c.ClaimNumber) {
			ev.NumberMatch = true
			pNumber = 1.0
		}

		pName := 0.0
		if cand.PattaHolder != "" && c.PattaHolder != "" {
			sim := gazetteer.Similarity(cand.PattaHolder, c.PattaHolder)
			ev.NameSimilarity = sim
			ev.SameVillage = sameVillage(cand.Hierarchy, c.Hierarchy)
			if ev.SameVillage && sim >= e.cfg.Dedup.NameSimilarityThreshold {
				pName = nameSignalWeight * sim
			}
		}

		pProximity := 0.0
		if hasCentroid && len(c.Geometry) > 0 {
			if g, derr := spatial.Decode(c.Geometry); derr == nil {
				cLng, cLat := spatial.Centroid(g)
				d := spatial.HaversineMeters(jobLng, jobLat, cLng, cLat)
				ev.CentroidMeters = d
				if limit := e.cfg.Dedup.ProximityMeters; d <= limit {
					pProximity = proximitySignalWeight * (1 - d/limit)
				}
			}
		}

		// Noisy-OR combination, scaled to 0-100.
		probability := (1 - (1-pNumber)*(1-pName)*(1-pProximity)) * 100
		if probability > maxProbability {
			maxProbability = probability
		}
		if probability >= e.cfg.Dedup.DisclosureThreshold {
			candidates = append(candidates, model.DuplicateCandidate{
				JobID:       job.ID,
				ClaimID:     c.ID,
				ClaimNumber: c.ClaimNumber,
				Probability: probability,
				Evidence:    ev,
			})
		}
	}

	if err := e.store.ReplaceDuplicateCandidates(ctx, job.ID, candidates); err != nil {
		return resilience.Transient(eris.Wrap(err, "dedupe: record candidates"))
	}

	if maxProbability > e.cfg.Dedup.FlagThreshold {
		job.Flags.PotentialDuplicate = true
		e.logger.Info("potential duplicate",
			zap.String("job_id", job.ID),
			zap.Float64("max_probability", maxProbability),
			zap.Int("candidates", len(candidates)))
	}

	job.Stage = model.StageDedupChecked
	return nil
}

func sameVillage(a, b model.Hierarchy) bool {
	if a.VillageID != "" && b.VillageID != "" {
		return a.VillageID == b.VillageID
	}
	return a.Village != "" && strings.EqualFold(a.Village, b.Village) &&
		strings.EqualFold(a.District, b.District)
}
