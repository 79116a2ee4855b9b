package model

import "time"

// Verdict is a reviewer's decision on a review_pending job.
type Verdict string

const (
	// VerdictApprove resumes the job toward commit, bypassing the automatic
	// gate once.
	VerdictApprove Verdict = "approve"

	// VerdictRequestInfo applies corrected fields and re-enters the pipeline
	// at validated; corrections are re-checked, not trusted blindly.
	VerdictRequestInfo Verdict = "request_info"

	// VerdictReject terminates the job as rejected.
	VerdictReject Verdict = "reject"
)

// Valid reports whether v is a recognized verdict.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictApprove, VerdictRequestInfo, VerdictReject:
		return true
	}
	return false
}

// ReviewDecision records one human decision on a job. A job may accumulate
// several decisions across review cycles.
type ReviewDecision struct {
	ID         string  `json:"id"`
	JobID      string  `json:"job_id"`
	ReviewerID string  `json:"reviewer_id"`
	Verdict    Verdict `json:"verdict"`

	// Corrections maps payload field names to corrected values; only set for
	// request_info verdicts.
	Corrections map[string]string `json:"corrections,omitempty"`

	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
