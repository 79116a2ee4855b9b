// Package pipeline implements the staged intake engine: validation,
// normalization, geocoding, duplicate and conflict detection, the commit
// gate, and the review workflow.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gramveda/claim-intake/internal/config"
	"github.com/gramveda/claim-intake/internal/gazetteer"
	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/store"
)

// Engine executes one pipeline stage per call. Each handler mutates the job
// in place (stage transition, candidate fields, flags); the dispatcher owns
// the lease-guarded write-back.
type Engine struct {
	cfg        *config.Config
	store      store.Store
	resolver   *gazetteer.Resolver
	claimTypes config.ClaimTypeMapping
	logger     *zap.Logger
}

// NewEngine creates an Engine with all stage dependencies.
func NewEngine(cfg *config.Config, st store.Store, resolver *gazetteer.Resolver, claimTypes config.ClaimTypeMapping) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      st,
		resolver:   resolver,
		claimTypes: claimTypes,
		logger:     zap.L().With(zap.String("component", "pipeline")),
	}
}

// WorkerStages lists the stages the dispatcher claims. review_pending is
// absent: suspended jobs resume only through a ReviewDecision.
func WorkerStages() []model.Stage {
	return []model.Stage{
		model.StageExtracted,
		model.StageValidated,
		model.StageNeedsReview,
		model.StageNormalized,
		model.StageGeocoded,
		model.StageDedupChecked,
		model.StageConflictChecked,
	}
}

// Execute runs the handler for the job's current stage. Transient errors
// bubble up for the dispatcher's retry loop; the job is only mutated on
// success or on a cooperative cancellation.
func (e *Engine) Execute(ctx context.Context, job *model.Job) error {
	if job.CancelRequested {
		e.cancel(job)
		return nil
	}

	log := e.logger.With(zap.String("job_id", job.ID), zap.String("stage", string(job.Stage)))

	var err error
	switch job.Stage {
	case model.StageExtracted:
		err = e.validate(job)
	case model.StageValidated, model.StageNeedsReview:
		err = e.normalize(job)
	case model.StageNormalized:
		err = e.geocode(ctx, job)
	case model.StageGeocoded:
		err = e.dedupe(ctx, job)
	case model.StageDedupChecked:
		err = e.conflict(ctx, job)
	case model.StageConflictChecked:
		err = e.finalize(ctx, job)
	default:
		return eris.Wrapf(ErrUnknownStage, "stage %s", job.Stage)
	}
	if err != nil {
		return err
	}

	// The attempt counter is per stage; a successful handler always moves
	// the job to a new stage.
	job.Attempts = 0

	log.Info("stage complete",
		zap.String("next_stage", string(job.Stage)),
		zap.Float64("confidence", job.Confidence))
	return nil
}

// cancel transitions a job to failed with reason cancelled. Cancellation is
// cooperative: it only takes effect at a stage boundary.
func (e *Engine) cancel(job *model.Job) {
	job.Stage = model.StageFailed
	job.Outcome = model.OutcomeFailed
	job.LastError = "cancelled"
	e.logger.Info("job cancelled", zap.String("job_id", job.ID))
}

// Fail moves a job to the failed terminal state preserving the triggering
// error for audit. Called by the dispatcher on permanent failure or retry
// exhaustion.
func Fail(job *model.Job, err error) {
	job.Stage = model.StageFailed
	job.Outcome = model.OutcomeFailed
	if err != nil {
		job.LastError = err.Error()
	}
}

// suspendForReview parks the job in review_pending and stamps the queue-entry
// time for SLA tracking.
func suspendForReview(job *model.Job) {
	now := time.Now().UTC()
	job.Stage = model.StageReviewPending
	job.ReviewCycles++
	job.EnteredReviewAt = &now
}
