package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gramveda/claim-intake/internal/model"
)

// Sentinel errors surfaced by Store implementations.
var (
	ErrNotFound = eris.New("store: not found")

	// ErrLeaseLost means a lease-guarded write found the lease gone:
	// either expired and reclaimed, or released by another path.
	ErrLeaseLost = eris.New("store: lease lost")

	// ErrCommitConflict means a concurrent commit already holds the
	// (claim_number, region_code) key.
	ErrCommitConflict = eris.New("store: commit conflict")
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Stage      model.Stage   `json:"stage,omitempty"`
	Outcome    model.Outcome `json:"outcome,omitempty"`
	RegionCode string        `json:"region_code,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	Offset     int           `json:"offset,omitempty"`
}

// VillageQuery narrows gazetteer candidate retrieval.
type VillageQuery struct {
	// NameNorm is the normalized village name for the exact-match pass;
	// empty retrieves all candidates matching the hints.
	NameNorm string

	State    string
	District string
	Block    string
	Limit    int
}

// Intersection is one feature intersecting a job's geometry, with the
// overlap area already computed by the backend.
type Intersection struct {
	FeatureID   string
	FeatureName string
	LayerType   string
	OverlapHa   float64
}

// Store is the persistence interface for the intake pipeline: the job store,
// evidence tables, committed claims, and the read-mostly reference data.
type Store interface {
	// Jobs. CreateJob stores a new job at stage extracted. ClaimJob grants a
	// time-bounded lease on one runnable job; UpdateJob is the lease-guarded
	// write-back that releases the lease and applies the stage transition.
	CreateJob(ctx context.Context, regionCode string, payload model.ExtractionPayload) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ClaimJob(ctx context.Context, stages []model.Stage, leaseTTL time.Duration) (*model.Job, error)
	RenewLease(ctx context.Context, jobID, token string, leaseTTL time.Duration) error
	UpdateJob(ctx context.Context, job *model.Job, token string) error
	// RequestCancel marks a job for cooperative cancellation. The mark is
	// honored at the next claimed stage boundary; a job suspended in
	// review_pending is unclaimable, so there it only takes effect after a
	// review decision resumes the job.
	RequestCancel(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Review queue, ordered by ascending confidence then severity descending.
	ListReviewQueue(ctx context.Context, limit int) ([]model.Job, error)
	ListReviewPendingOlderThan(ctx context.Context, age time.Duration) ([]model.Job, error)

	// Evidence, scoped to a job's lifetime. Replace semantics keep stage
	// execution idempotent under at-least-once delivery.
	ReplaceDuplicateCandidates(ctx context.Context, jobID string, candidates []model.DuplicateCandidate) error
	ListDuplicateCandidates(ctx context.Context, jobID string) ([]model.DuplicateCandidate, error)
	ReplaceConflictRecords(ctx context.Context, jobID string, records []model.ConflictRecord) error
	ListConflictRecords(ctx context.Context, jobID string) ([]model.ConflictRecord, error)

	// Review decisions.
	CreateReviewDecision(ctx context.Context, d *model.ReviewDecision) error
	ListReviewDecisions(ctx context.Context, jobID string) ([]model.ReviewDecision, error)

	// Committed claims. CommitClaim is idempotent by job id and atomic with
	// respect to the (claim_number, region_code) uniqueness invariant.
	// SupersedeGeometry appends a new geometry version; history is
	// append-only.
	CommitClaim(ctx context.Context, claim *model.CommittedClaim) (*model.CommittedClaim, error)
	GetCommittedByJob(ctx context.Context, jobID string) (*model.CommittedClaim, error)
	ListCommittedInRegion(ctx context.Context, regionCode string) ([]model.CommittedClaim, error)
	SupersedeGeometry(ctx context.Context, claimID string, geometry json.RawMessage) (*model.CommittedClaim, error)

	// Reference data (read-mostly; written by the loaders).
	UpsertVillage(ctx context.Context, v *model.Village) error
	SearchVillages(ctx context.Context, q VillageQuery) ([]model.Village, error)
	UpsertLayerFeature(ctx context.Context, f *model.LayerFeature) error
	IntersectLayers(ctx context.Context, geometry json.RawMessage, layerType string) ([]Intersection, error)
	IntersectClaims(ctx context.Context, geometry json.RawMessage, regionCode, excludeJobID string) ([]Intersection, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
