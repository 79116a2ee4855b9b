package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramveda/claim-intake/internal/model"
)

func TestValidateCompletePayload(t *testing.T) {
	e, _ := newTestEngine(t)

	job := &model.Job{ID: "j1", Stage: model.StageExtracted, Payload: fullPayload()}
	require.NoError(t, e.validate(job))

	assert.Equal(t, model.StageValidated, job.Stage)
	assert.Empty(t, job.ValidationIssues)
	assert.InDelta(t, 92.65, job.Confidence, 0.01)
}

func TestValidateMissingRequiredCapsConfidence(t *testing.T) {
	e, _ := newTestEngine(t)

	payload := fullPayload()
	payload.Village = model.Field{}
	for _, f := range []*model.Field{
		&payload.ClaimNumber, &payload.PattaHolder, &payload.LandExtent,
		&payload.Coordinates, &payload.ClaimType,
	} {
		f.Confidence = 100
	}

	job := &model.Job{ID: "j2", Stage: model.StageExtracted, Payload: payload}
	require.NoError(t, e.validate(job))

	// 75 points of weighted confidence, capped below the commit band.
	assert.Equal(t, model.StageNeedsReview, job.Stage)
	assert.InDelta(t, missingRequiredCap, job.Confidence, 0.01)
	assert.Contains(t, job.ValidationIssues, "missing village")
}

func TestValidateInvalidFieldsRecorded(t *testing.T) {
	e, _ := newTestEngine(t)

	payload := fullPayload()
	payload.LandExtent = model.Field{Value: "3 bigha", Confidence: 80}
	payload.Coordinates = model.Field{Value: "near the river", Confidence: 50}
	payload.ClaimDate = model.Field{Value: "sometime", Confidence: 40}

	job := &model.Job{ID: "j3", Stage: model.StageExtracted, Payload: payload}
	require.NoError(t, e.validate(job))

	assert.Equal(t, model.StageNeedsReview, job.Stage)
	assert.Len(t, job.ValidationIssues, 3)
	assert.Contains(t, job.ValidationIssues, "invalid land_extent: 3 bigha")
	assert.Less(t, job.Confidence, float64(missingRequiredCap)+0.01)
}

func TestValidateEmptyPayload(t *testing.T) {
	e, _ := newTestEngine(t)

	job := &model.Job{ID: "j4", Stage: model.StageExtracted}
	require.NoError(t, e.validate(job))

	assert.Equal(t, model.StageNeedsReview, job.Stage)
	assert.Equal(t, float64(0), job.Confidence)
	assert.Len(t, job.ValidationIssues, 3)
}
