package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramveda/claim-intake/internal/config"
	"github.com/gramveda/claim-intake/internal/gazetteer"
	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/resilience"
	"github.com/gramveda/claim-intake/internal/store"
)

// pendingJob creates a job whose payload the test mutates before ingestion.
func pendingJob(t *testing.T, s store.Store, mutate func(*model.ExtractionPayload)) *model.Job {
	t.Helper()
	payload := fullPayload()
	if mutate != nil {
		mutate(&payload)
	}
	created, err := s.CreateJob(context.Background(), "MH-GAD", payload)
	require.NoError(t, err)
	return created
}

func TestReviewApproveResumesTowardCommit(t *testing.T) {
	e, s := newTestEngine(t)
	seedVillage(t, s)
	ctx := context.Background()
	svc := NewReviewService(s)

	created := pendingJob(t, s, func(p *model.ExtractionPayload) {
		p.ClaimNumber.Confidence = 20
		p.Village.Confidence = 20
		p.PattaHolder.Confidence = 20
	})
	job := runToRest(t, e, s, created.ID)
	require.Equal(t, model.StageReviewPending, job.Stage)

	queue, err := svc.Queue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queue, 1)

	resumed, err := svc.Decide(ctx, job.ID, model.ReviewDecision{
		ReviewerID: "rev-1",
		Verdict:    model.VerdictApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StageConflictChecked, resumed.Stage)
	assert.True(t, resumed.Flags.ReviewApproved)

	final := runToRest(t, e, s, job.ID)
	assert.Equal(t, model.StageCommitted, final.Stage)
	// The one-shot bypass is consumed by the commit.
	assert.False(t, final.Flags.ReviewApproved)
}

// flakyCommitStore fails the first CommitClaim writes transiently, as a busy
// sqlite file would.
type flakyCommitStore struct {
	store.Store
	failures int
}

func (s *flakyCommitStore) CommitClaim(ctx context.Context, claim *model.CommittedClaim) (*model.CommittedClaim, error) {
	if s.failures > 0 {
		s.failures--
		return nil, resilience.Transient(eris.New("database is locked"))
	}
	return s.Store.CommitClaim(ctx, claim)
}

func TestReviewApprovalSurvivesTransientCommitFailure(t *testing.T) {
	e, s := newTestEngine(t)
	seedVillage(t, s)
	ctx := context.Background()
	svc := NewReviewService(s)

	created := pendingJob(t, s, func(p *model.ExtractionPayload) {
		p.ClaimNumber.Confidence = 20
		p.Village.Confidence = 20
		p.PattaHolder.Confidence = 20
	})
	job := runToRest(t, e, s, created.ID)
	require.Equal(t, model.StageReviewPending, job.Stage)

	_, err := svc.Decide(ctx, job.ID, model.ReviewDecision{
		ReviewerID: "rev-1",
		Verdict:    model.VerdictApprove,
	})
	require.NoError(t, err)

	flaky := &flakyCommitStore{Store: s, failures: 1}
	cfg := testConfig()
	resolver := gazetteer.NewResolver(flaky, cfg.Geocode.SimilarityThreshold, cfg.Geocode.LookupsPerSecond, cfg.Geocode.MaxCandidates)
	claimTypes, err := config.LoadClaimTypes("")
	require.NoError(t, err)
	e2 := NewEngine(cfg, flaky, resolver, claimTypes)

	claimed, err := s.ClaimJob(ctx, WorkerStages(), minuteTTL)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, model.StageConflictChecked, claimed.Stage)

	// Retry the stage the way the dispatcher does. The approval must still
	// hold on the second attempt instead of re-parking the job for review.
	retry := resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	require.NoError(t, resilience.Do(ctx, retry, func(c context.Context) error {
		return e2.Execute(c, claimed)
	}))
	require.NoError(t, s.UpdateJob(ctx, claimed, claimed.LeaseToken))

	final, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageCommitted, final.Stage)
	assert.False(t, final.Flags.ReviewApproved)
	assert.Equal(t, 0, flaky.failures)
}

func TestReviewRequestInfoReentersValidated(t *testing.T) {
	e, s := newTestEngine(t)
	seedVillage(t, s)
	ctx := context.Background()
	svc := NewReviewService(s)

	created := pendingJob(t, s, func(p *model.ExtractionPayload) {
		p.ClaimNumber = model.Field{}
	})
	job := runToRest(t, e, s, created.ID)
	require.Equal(t, model.StageReviewPending, job.Stage)

	resumed, err := svc.Decide(ctx, job.ID, model.ReviewDecision{
		ReviewerID:  "rev-1",
		Verdict:     model.VerdictRequestInfo,
		Corrections: map[string]string{"claim_number": "MP/IFR/2024/31415"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StageValidated, resumed.Stage)

	final := runToRest(t, e, s, job.ID)
	assert.Equal(t, model.StageCommitted, final.Stage)

	claim, err := s.GetCommittedByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "MP/IFR/2024/31415", claim.ClaimNumber)

	decisions, err := s.ListReviewDecisions(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
}

func TestReviewRejectTerminates(t *testing.T) {
	e, s := newTestEngine(t)
	seedVillage(t, s)
	ctx := context.Background()
	svc := NewReviewService(s)

	created := pendingJob(t, s, func(p *model.ExtractionPayload) {
		p.ClaimNumber.Confidence = 10
		p.Village.Confidence = 10
	})
	job := runToRest(t, e, s, created.ID)
	require.Equal(t, model.StageReviewPending, job.Stage)

	rejected, err := svc.Decide(ctx, job.ID, model.ReviewDecision{
		ReviewerID: "rev-2",
		Verdict:    model.VerdictReject,
		Reason:     "document is a duplicate submission",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StageRejected, rejected.Stage)
	assert.Equal(t, model.OutcomeRejected, rejected.Outcome)
	assert.Equal(t, "document is a duplicate submission", rejected.LastError)
}

func TestReviewDecisionGuards(t *testing.T) {
	_, s := newTestEngine(t)
	seedVillage(t, s)
	ctx := context.Background()
	svc := NewReviewService(s)

	created := pendingJob(t, s, nil)

	// Not in review_pending.
	_, err := svc.Decide(ctx, created.ID, model.ReviewDecision{
		ReviewerID: "rev-1", Verdict: model.VerdictApprove,
	})
	assert.Error(t, err)

	// Invalid verdict.
	_, err = svc.Decide(ctx, created.ID, model.ReviewDecision{
		ReviewerID: "rev-1", Verdict: "maybe",
	})
	assert.Error(t, err)

	// Unknown job.
	_, err = svc.Decide(ctx, "missing", model.ReviewDecision{
		ReviewerID: "rev-1", Verdict: model.VerdictApprove,
	})
	assert.Error(t, err)
}

func TestReviewCycleCountsAccumulate(t *testing.T) {
	e, s := newTestEngine(t)
	seedVillage(t, s)
	ctx := context.Background()
	svc := NewReviewService(s)

	// Permanently low confidence keeps failing the gate after corrections.
	created := pendingJob(t, s, func(p *model.ExtractionPayload) {
		p.ClaimNumber.Confidence = 10
		p.Village.Confidence = 10
		p.PattaHolder.Confidence = 10
		p.LandExtent.Confidence = 10
	})
	job := runToRest(t, e, s, created.ID)
	require.Equal(t, model.StageReviewPending, job.Stage)
	assert.Equal(t, 1, job.ReviewCycles)

	_, err := svc.Decide(ctx, job.ID, model.ReviewDecision{
		ReviewerID: "rev-1", Verdict: model.VerdictRequestInfo,
		Corrections: map[string]string{"block": "Bhamragad"},
	})
	require.NoError(t, err)

	again := runToRest(t, e, s, job.ID)
	require.Equal(t, model.StageReviewPending, again.Stage)
	assert.Equal(t, 2, again.ReviewCycles)
}
