package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/store"
)

// ReviewService exposes the review queue and applies reviewer decisions,
// resuming suspended jobs. Suspended jobs hold no lease, so decision writes
// use the unleased write-back path.
type ReviewService struct {
	store  store.Store
	logger *zap.Logger
}

// NewReviewService creates a ReviewService.
func NewReviewService(s store.Store) *ReviewService {
	return &ReviewService{
		store:  s,
		logger: zap.L().With(zap.String("component", "review")),
	}
}

// Queue lists review_pending jobs, lowest confidence first, then severity
// descending.
func (r *ReviewService) Queue(ctx context.Context, limit int) ([]model.Job, error) {
	return r.store.ListReviewQueue(ctx, limit)
}

// Decide records a reviewer decision and resumes the job:
//
//   - approve resumes toward commit, bypassing the automatic gate once;
//   - request_info applies corrected fields and re-enters the pipeline at
//     validated, so corrections are re-geocoded and re-checked, not trusted;
//   - reject terminates the job with the reason stored.
func (r *ReviewService) Decide(ctx context.Context, jobID string, d model.ReviewDecision) (*model.Job, error) {
	if !d.Verdict.Valid() {
		return nil, eris.Errorf("review: invalid verdict %q", d.Verdict)
	}

	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Stage != model.StageReviewPending {
		return nil, eris.Errorf("review: job %s is %s, not review_pending", jobID, job.Stage)
	}

	d.JobID = jobID
	if err := r.store.CreateReviewDecision(ctx, &d); err != nil {
		return nil, err
	}

	switch d.Verdict {
	case model.VerdictApprove:
		job.Flags.ReviewApproved = true
		job.Stage = model.StageConflictChecked

	case model.VerdictRequestInfo:
		if job.Corrections == nil {
			job.Corrections = make(map[string]string, len(d.Corrections))
		}
		for k, v := range d.Corrections {
			job.Corrections[k] = v
		}
		job.Flags.ReviewApproved = false
		job.Stage = model.StageValidated

	case model.VerdictReject:
		job.Stage = model.StageRejected
		job.Outcome = model.OutcomeRejected
		job.LastError = d.Reason
	}

	if err := r.store.UpdateJob(ctx, job, ""); err != nil {
		return nil, eris.Wrapf(err, "review: resume job %s", jobID)
	}

	r.logger.Info("review decision applied",
		zap.String("job_id", jobID),
		zap.String("reviewer", d.ReviewerID),
		zap.String("verdict", string(d.Verdict)),
		zap.Int("corrections", len(d.Corrections)))
	return job, nil
}
