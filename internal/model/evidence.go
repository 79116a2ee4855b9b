package model

import "time"

// Severity classifies the impact of a geometric conflict.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// BlocksCommit reports whether the severity blocks automatic commit.
func (s Severity) BlocksCommit() bool {
	return s == SeverityMedium || s == SeverityHigh
}

// MatchEvidence records which duplicate signals fired for a candidate pair.
type MatchEvidence struct {
	NumberMatch    bool    `json:"number_match,omitempty"`
	NameSimilarity float64 `json:"name_similarity,omitempty"`
	SameVillage    bool    `json:"same_village,omitempty"`

	// CentroidMeters is the centroid distance; negative when unknown.
	CentroidMeters float64 `json:"centroid_meters,omitempty"`
}

// DuplicateCandidate pairs a job with a committed claim it may duplicate.
type DuplicateCandidate struct {
	ID          string        `json:"id"`
	JobID       string        `json:"job_id"`
	ClaimID     string        `json:"claim_id"`
	ClaimNumber string        `json:"claim_number"`
	Probability float64       `json:"probability"`
	Evidence    MatchEvidence `json:"evidence"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ConflictRecord pairs a job with an intersecting reference-layer feature or
// committed claim geometry.
type ConflictRecord struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	LayerType   string    `json:"layer_type"`
	FeatureID   string    `json:"feature_id"`
	FeatureName string    `json:"feature_name,omitempty"`
	OverlapHa   float64   `json:"overlap_hectares"`
	OverlapPct  float64   `json:"overlap_percent"`
	Severity    Severity  `json:"severity"`
	CreatedAt   time.Time `json:"created_at"`
}

// Layer types intersected by the conflict detector.
const (
	LayerForest    = "forest"
	LayerProtected = "protected"
	LayerRevenue   = "revenue"
	LayerClaim     = "claim"
)
