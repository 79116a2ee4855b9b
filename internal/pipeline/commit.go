package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/resilience"
	"github.com/gramveda/claim-intake/internal/store"
)

// finalize runs the commit gate at conflict_checked and either commits the
// claim or parks the job for review.
func (e *Engine) finalize(ctx context.Context, job *model.Job) error {
	maxDup, err := e.maxDuplicateProbability(ctx, job.ID)
	if err != nil {
		return err
	}

	decision := EvaluateGate(GateInput{
		Confidence:         job.Confidence,
		MaxSeverity:        job.MaxSeverity,
		MaxDuplicateProb:   maxDup,
		ReviewApproved:     job.Flags.ReviewApproved,
		CommitConfidence:   e.cfg.Review.CommitConfidence,
		DuplicateThreshold: e.cfg.Dedup.FlagThreshold,
	})

	if decision.Action == GateReview {
		suspendForReview(job)
		e.logger.Info("job held for review",
			zap.String("job_id", job.ID),
			zap.Strings("reasons", decision.Reasons),
			zap.Int("cycle", job.ReviewCycles))
		return nil
	}

	return e.commit(ctx, job)
}

// commit performs the idempotent write of the finalized record. A concurrent
// commit holding the (claim_number, region_code) key routes the job back to
// the duplicate detector for reconciliation.
func (e *Engine) commit(ctx context.Context, job *model.Job) error {
	cand := job.Candidate
	if cand == nil {
		return eris.Errorf("commit: job %s has no candidate", job.ID)
	}

	claim := &model.CommittedClaim{
		JobID:        job.ID,
		ClaimNumber:  cand.ClaimNumber,
		RegionCode:   job.RegionCode,
		PattaHolder:  cand.PattaHolder,
		ClaimType:    cand.ClaimType,
		Hierarchy:    cand.Hierarchy,
		Geometry:     cand.Geometry,
		AreaHectares: cand.AreaHectares,
		Confidence:   job.Confidence,
	}
	if len(claim.Geometry) == 0 {
		// The store requires a geometry; an unresolved location commits as
		// an explicit empty point only after reviewer approval, which is
		// the sole path here without one.
		return resilience.Permanent(eris.Errorf("commit: job %s has no geometry", job.ID))
	}

	committed, err := e.store.CommitClaim(ctx, claim)
	if err != nil {
		if eris.Is(err, store.ErrCommitConflict) {
			job.Stage = model.StageGeocoded
			job.LastError = "commit conflict on " + cand.ClaimNumber
			e.logger.Warn("commit conflict, re-running duplicate detection",
				zap.String("job_id", job.ID),
				zap.String("claim_number", cand.ClaimNumber))
			return nil
		}
		return resilience.Transient(eris.Wrap(err, "commit: write claim"))
	}

	job.Stage = model.StageCommitted
	job.Outcome = model.OutcomeCommitted
	job.LastError = ""
	// The one-shot approval is spent only by the successful write; a failed
	// or conflicted attempt re-enters the gate with the bypass intact.
	job.Flags.ReviewApproved = false
	e.logger.Info("claim committed",
		zap.String("job_id", job.ID),
		zap.String("claim_id", committed.ID),
		zap.String("claim_number", committed.ClaimNumber),
		zap.String("path", committed.Hierarchy.Path()))
	return nil
}

func (e *Engine) maxDuplicateProbability(ctx context.Context, jobID string) (float64, error) {
	candidates, err := e.store.ListDuplicateCandidates(ctx, jobID)
	if err != nil {
		return 0, resilience.Transient(eris.Wrap(err, "gate: list duplicate candidates"))
	}
	var maxProb float64
	for _, c := range candidates {
		if c.Probability > maxProb {
			maxProb = c.Probability
		}
	}
	return maxProb, nil
}
