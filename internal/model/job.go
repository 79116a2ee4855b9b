package model

import (
	"time"
)

// Stage identifies a job's position in the intake pipeline.
type Stage string

const (
	StageExtracted       Stage = "extracted"
	StageValidated       Stage = "validated"
	StageNeedsReview     Stage = "needs_review"
	StageNormalized      Stage = "normalized"
	StageGeocoded        Stage = "geocoded"
	StageDedupChecked    Stage = "dedup_checked"
	StageConflictChecked Stage = "conflict_checked"
	StageReviewPending   Stage = "review_pending"
	StageCommitted       Stage = "committed"
	StageRejected        Stage = "rejected"
	StageFailed          Stage = "failed"
)

// Terminal reports whether the stage is a terminal state.
func (s Stage) Terminal() bool {
	switch s {
	case StageCommitted, StageRejected, StageFailed:
		return true
	}
	return false
}

// Outcome is the terminal result of a job. Empty until the job terminates.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// JobFlags are non-fatal conditions attached to a job for reviewer visibility.
type JobFlags struct {
	ApproximateLocation  bool `json:"approximate_location,omitempty"`
	GeocodingDiscrepancy bool `json:"geocoding_discrepancy,omitempty"`
	PotentialDuplicate   bool `json:"potential_duplicate,omitempty"`

	// ReviewApproved bypasses the automatic commit gate exactly once after a
	// reviewer has accepted the residual risk.
	ReviewApproved bool `json:"review_approved,omitempty"`
}

// Job is one document's progress unit through the intake pipeline.
//
// The Job Store owns the record; only the dispatcher and the worker holding
// the current lease may mutate it.
type Job struct {
	ID         string `json:"id"`
	RegionCode string `json:"region_code"`
	Stage      Stage  `json:"stage"`

	// Attempts counts executions of the current stage; it resets on every
	// stage transition.
	Attempts int `json:"attempts"`

	Payload   ExtractionPayload `json:"payload"`
	Candidate *CandidateClaim   `json:"candidate,omitempty"`

	// Confidence is the 0-100 extraction confidence computed at validation
	// and adjusted by later stages.
	Confidence float64 `json:"confidence"`

	// ValidationIssues lists missing or invalid fields found at validation.
	ValidationIssues []string `json:"validation_issues,omitempty"`

	Flags JobFlags `json:"flags"`

	Outcome         Outcome `json:"outcome,omitempty"`
	LastError       string  `json:"last_error,omitempty"`
	CancelRequested bool    `json:"cancel_requested,omitempty"`

	// Corrections are reviewer-supplied field overrides from request_info
	// decisions. The raw payload stays immutable; stages read the payload
	// through EffectivePayload.
	Corrections map[string]string `json:"corrections,omitempty"`

	// MaxSeverity is the highest conflict severity recorded for the job,
	// used to order the review queue.
	MaxSeverity Severity `json:"max_severity,omitempty"`

	// ReviewCycles counts how many times the job has entered review_pending.
	ReviewCycles    int        `json:"review_cycles,omitempty"`
	EnteredReviewAt *time.Time `json:"entered_review_at,omitempty"`

	LeaseToken     string     `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectivePayload returns the payload with reviewer corrections applied.
// Corrected fields carry full confidence; the correction itself is still
// re-validated, re-geocoded and re-checked like any other input.
func (j *Job) EffectivePayload() ExtractionPayload {
	p := j.Payload
	if len(j.Corrections) == 0 {
		return p
	}
	override := func(f *Field, key string) {
		if v, ok := j.Corrections[key]; ok {
			*f = Field{Value: v, Confidence: 100}
		}
	}
	override(&p.ClaimNumber, "claim_number")
	override(&p.PattaHolder, "patta_holder")
	override(&p.Village, "village")
	override(&p.Block, "block")
	override(&p.District, "district")
	override(&p.State, "state")
	override(&p.LandExtent, "land_extent")
	override(&p.Coordinates, "coordinates")
	override(&p.ClaimType, "claim_type")
	override(&p.ClaimStatus, "claim_status")
	override(&p.ClaimDate, "claim_date")
	return p
}
