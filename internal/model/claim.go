package model

import (
	"encoding/json"
	"time"
)

// ClaimType codes recognized by the pipeline.
const (
	ClaimTypeIndividual      = "IFR"
	ClaimTypeCommunityForest = "CFR"
	ClaimTypeCommunityRights = "CR"
)

// Hierarchy is the resolved administrative path for a claim location.
type Hierarchy struct {
	State     string `json:"state"`
	District  string `json:"district"`
	Block     string `json:"block"`
	Village   string `json:"village"`
	VillageID string `json:"village_id"`
}

// Path renders the hierarchy as a slash-separated path.
func (h Hierarchy) Path() string {
	return h.State + "/" + h.District + "/" + h.Block + "/" + h.Village
}

// CandidateClaim is the working, normalized projection of a job's payload.
// Each stage replaces only the fields it owns; it is never partially
// overwritten.
type CandidateClaim struct {
	ClaimNumber string `json:"claim_number"`
	RegionCode  string `json:"region_code"`
	PattaHolder string `json:"patta_holder"`
	ClaimType   string `json:"claim_type"`

	Hierarchy Hierarchy `json:"hierarchy"`

	// Geometry is the resolved location as GeoJSON: a Point when only
	// coordinates or a centroid placeholder are known, a Polygon when a
	// parcel boundary was extracted.
	Geometry json.RawMessage `json:"geometry,omitempty"`

	AreaHectares      float64    `json:"area_hectares"`
	ClaimDate         *time.Time `json:"claim_date,omitempty"`
	Status            string     `json:"status,omitempty"`
	GeocodeConfidence float64    `json:"geocode_confidence"`
}

// CommittedClaim is the durable, versioned claim record.
//
// (ClaimNumber, RegionCode) is unique among non-rejected claims. Geometry is
// append-only: a committed geometry is only ever superseded by a new version,
// never destructively overwritten.
type CommittedClaim struct {
	ID          string          `json:"id"`
	JobID       string          `json:"job_id"`
	ClaimNumber string          `json:"claim_number"`
	RegionCode  string          `json:"region_code"`
	PattaHolder string          `json:"patta_holder"`
	ClaimType   string          `json:"claim_type"`
	Hierarchy   Hierarchy       `json:"hierarchy"`
	Geometry    json.RawMessage `json:"geometry"`

	AreaHectares float64 `json:"area_hectares"`
	Confidence   float64 `json:"confidence"`
	Version      int     `json:"version"`

	CommittedAt time.Time `json:"committed_at"`
}
