package pipeline

import (
	"github.com/gramveda/claim-intake/internal/model"
)

// Field weights for the overall confidence score. Required fields carry the
// bulk of the weight; the weights sum to 1.
var confidenceWeights = []struct {
	name     string
	weight   float64
	required bool
	pick     func(p model.ExtractionPayload) model.Field
}{
	{"claim_number", 0.25, true, func(p model.ExtractionPayload) model.Field { return p.ClaimNumber }},
	{"village", 0.25, true, func(p model.ExtractionPayload) model.Field { return p.Village }},
	{"land_extent", 0.15, true, func(p model.ExtractionPayload) model.Field { return p.LandExtent }},
	{"patta_holder", 0.15, false, func(p model.ExtractionPayload) model.Field { return p.PattaHolder }},
	{"coordinates", 0.10, false, func(p model.ExtractionPayload) model.Field { return p.Coordinates }},
	{"claim_type", 0.10, false, func(p model.ExtractionPayload) model.Field { return p.ClaimType }},
}

// missingRequiredCap keeps a payload with a missing required field out of the
// automatic-commit band no matter how confident the remaining fields are.
const missingRequiredCap = 69

// validate checks required fields, verifies parseable values, and computes
// the job's overall confidence. Jobs with issues still proceed through the
// remaining automated stages so reviewers see the fullest picture.
func (e *Engine) validate(job *model.Job) error {
	payload := job.EffectivePayload()

	var issues []string
	var score float64
	missingRequired := false

	for _, fw := range confidenceWeights {
		f := fw.pick(payload)
		if !f.Present() {
			if fw.required {
				issues = append(issues, "missing "+fw.name)
				missingRequired = true
			}
			continue
		}
		score += fw.weight * f.Confidence
	}

	// Well-typedness of parseable fields. Parse failures are recorded for
	// the reviewer and the field contributes nothing further.
	if payload.LandExtent.Present() {
		if _, err := parseExtentHectares(payload.LandExtent.Value); err != nil {
			issues = append(issues, "invalid land_extent: "+payload.LandExtent.Value)
			missingRequired = true
			score -= 0.15 * payload.LandExtent.Confidence
		}
	}
	if payload.Coordinates.Present() {
		if _, _, err := parseCoordinates(payload.Coordinates.Value); err != nil {
			issues = append(issues, "invalid coordinates: "+payload.Coordinates.Value)
			score -= 0.10 * payload.Coordinates.Confidence
		}
	}
	if payload.ClaimDate.Present() {
		if _, err := parseClaimDate(payload.ClaimDate.Value); err != nil {
			issues = append(issues, "invalid claim_date: "+payload.ClaimDate.Value)
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	if missingRequired && score > missingRequiredCap {
		score = missingRequiredCap
	}

	job.Confidence = score
	job.ValidationIssues = issues

	if len(issues) == 0 {
		job.Stage = model.StageValidated
	} else {
		job.Stage = model.StageNeedsReview
	}
	return nil
}
