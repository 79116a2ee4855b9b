package model

// Field is a single extracted value with its upstream provenance confidence
// on a 0-100 scale.
type Field struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Present reports whether the field carries a non-empty value.
func (f Field) Present() bool {
	return f.Value != ""
}

// ExtractionPayload is the raw entity set produced by the upstream
// document-extraction service. It is immutable once ingested; stages read it
// but never modify it.
type ExtractionPayload struct {
	DocumentType  string `json:"document_type"`
	SchemaVersion string `json:"schema_version,omitempty"`
	SourceRef     string `json:"source_ref,omitempty"`

	ClaimNumber Field `json:"claim_number"`
	PattaHolder Field `json:"patta_holder"`

	// Village is the free-text village reference; District, Block and State
	// are optional parent hints for gazetteer resolution.
	Village  Field `json:"village"`
	Block    Field `json:"block,omitempty"`
	District Field `json:"district,omitempty"`
	State    Field `json:"state,omitempty"`

	// LandExtent is the claimed area with unit, e.g. "2.5 acres".
	LandExtent Field `json:"land_extent"`

	// Coordinates is the extracted location, DMS or decimal degrees.
	// Optional; absence results in an approximate_location placeholder.
	Coordinates Field `json:"coordinates,omitempty"`

	ClaimType   Field `json:"claim_type,omitempty"`
	ClaimStatus Field `json:"claim_status,omitempty"`
	ClaimDate   Field `json:"claim_date,omitempty"`
}
