package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/spatial"
)

func geocodedJob(t *testing.T, e *Engine, payload model.ExtractionPayload) *model.Job {
	t.Helper()
	job := &model.Job{ID: "jg", RegionCode: "MH-GAD", Stage: model.StageExtracted, Payload: payload}
	require.NoError(t, e.validate(job))
	require.NoError(t, e.normalize(job))
	require.NoError(t, e.geocode(context.Background(), job))
	return job
}

func TestGeocodeCoordinatesInsideBoundary(t *testing.T) {
	e, s := newTestEngine(t)
	seedVillage(t, s)

	job := geocodedJob(t, e, fullPayload())

	assert.Equal(t, model.StageGeocoded, job.Stage)
	assert.False(t, job.Flags.GeocodingDiscrepancy)
	assert.False(t, job.Flags.ApproximateLocation)
	assert.Equal(t, 1.0, job.Candidate.GeocodeConfidence)
	assert.Equal(t, "Bhamragad", job.Candidate.Hierarchy.Village)
	assert.NotEmpty(t, job.Candidate.Hierarchy.VillageID)

	g, err := spatial.Decode(job.Candidate.Geometry)
	require.NoError(t, err)
	lng, lat := spatial.Centroid(g)
	assert.InDelta(t, 80.60, lng, 1e-6)
	assert.InDelta(t, 19.40, lat, 1e-6)
}

func TestGeocodeCoordinatesOutsideBoundaryFlagsDiscrepancy(t *testing.T) {
	e, s := newTestEngine(t)
	seedVillage(t, s)

	payload := fullPayload()
	payload.Coordinates = model.Field{Value: "21.00, 82.00", Confidence: 88}
	job := geocodedJob(t, e, payload)

	assert.True(t, job.Flags.GeocodingDiscrepancy)

	// Same payload with in-boundary coordinates scores higher.
	clean := geocodedJob(t, e, fullPayload())
	assert.Less(t, job.Confidence, clean.Confidence)
}

func TestGeocodeCentroidPlaceholder(t *testing.T) {
	e, s := newTestEngine(t)
	v := seedVillage(t, s)

	payload := fullPayload()
	payload.Coordinates = model.Field{}
	job := geocodedJob(t, e, payload)

	assert.True(t, job.Flags.ApproximateLocation)

	g, err := spatial.Decode(job.Candidate.Geometry)
	require.NoError(t, err)
	lng, lat := spatial.Centroid(g)
	assert.InDelta(t, v.CentroidLng, lng, 1e-6)
	assert.InDelta(t, v.CentroidLat, lat, 1e-6)
}

func TestGeocodeUnresolvedLowersConfidence(t *testing.T) {
	e, s := newTestEngine(t)
	seedVillage(t, s)

	payload := fullPayload()
	payload.Village = model.Field{Value: "Nowhere Known", Confidence: 94}
	payload.Coordinates = model.Field{}
	job := geocodedJob(t, e, payload)

	assert.Equal(t, model.StageGeocoded, job.Stage)
	assert.True(t, job.Flags.ApproximateLocation)
	assert.Empty(t, job.Candidate.Geometry)
	assert.Equal(t, 0.0, job.Candidate.GeocodeConfidence)

	resolved := geocodedJob(t, e, fullPayload())
	assert.Less(t, job.Confidence, resolved.Confidence)
}
