package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramveda/claim-intake/internal/model"
)

func TestParseExtentHectares(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"2.5 acres", 1.0117, false},
		{"1 acre", 0.4047, false},
		{"3 ha", 3, false},
		{"1.2 hectares", 1.2, false},
		{"2,5 ha", 2.5, false},
		{"5000 sqm", 0.5, false},
		{"4", 4, false},
		{"", 0, true},
		{"two acres", 0, true},
		{"-3 ha", 0, true},
		{"3 bigha", 0, true},
	}
	for _, tt := range tests {
		got, err := parseExtentHectares(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 0.001, tt.in)
	}
}

func TestParseClaimDate(t *testing.T) {
	for _, in := range []string{"2024-03-15", "15-03-2024", "15/03/2024", "15 Mar 2024"} {
		d, err := parseClaimDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), d, in)
	}

	_, err := parseClaimDate("sometime last year")
	assert.Error(t, err)
}

func TestParseCoordinates(t *testing.T) {
	lat, lng, err := parseCoordinates("19.40, 80.60")
	require.NoError(t, err)
	assert.InDelta(t, 19.40, lat, 1e-9)
	assert.InDelta(t, 80.60, lng, 1e-9)

	lat, lng, err = parseCoordinates(`19°24'00"N 80°36'00"E`)
	require.NoError(t, err)
	assert.InDelta(t, 19.4, lat, 1e-6)
	assert.InDelta(t, 80.6, lng, 1e-6)

	// Lng-first DMS order is normalized.
	lat, lng, err = parseCoordinates(`80°36'00"E 19°24'00"S`)
	require.NoError(t, err)
	assert.InDelta(t, -19.4, lat, 1e-6)
	assert.InDelta(t, 80.6, lng, 1e-6)

	for _, in := range []string{"", "near the river", "95.0, 80.0", `19°75'00"N 80°36'00"E`} {
		_, _, err := parseCoordinates(in)
		assert.Error(t, err, in)
	}
}

func TestNormalizeBuildsCandidate(t *testing.T) {
	e, _ := newTestEngine(t)

	job := &model.Job{
		ID:         "j1",
		RegionCode: "MH-GAD",
		Stage:      model.StageValidated,
		Payload:    fullPayload(),
		Confidence: 93,
	}
	require.NoError(t, e.normalize(job))

	require.NotNil(t, job.Candidate)
	c := job.Candidate
	assert.Equal(t, model.StageNormalized, job.Stage)
	assert.Equal(t, "MP/IFR/2024/12345", c.ClaimNumber)
	assert.Equal(t, "Sukhram Netam", c.PattaHolder)
	assert.Equal(t, model.ClaimTypeIndividual, c.ClaimType)
	assert.InDelta(t, 1.0117, c.AreaHectares, 0.001)
	require.NotNil(t, c.ClaimDate)
	assert.Equal(t, 2024, c.ClaimDate.Year())
	assert.Equal(t, "Bhamragad", c.Hierarchy.Village)
	assert.Equal(t, "Gadchiroli", c.Hierarchy.District)
}

func TestNormalizeRevalidatesCorrections(t *testing.T) {
	e, _ := newTestEngine(t)

	payload := fullPayload()
	payload.ClaimNumber = model.Field{} // missing required field

	job := &model.Job{
		ID:         "j2",
		RegionCode: "MH-GAD",
		Stage:      model.StageValidated,
		Payload:    payload,
		Confidence: 42,
		Corrections: map[string]string{
			"claim_number": "MP/IFR/2024/55555",
		},
	}
	require.NoError(t, e.normalize(job))

	// The corrected field earns full confidence and clears the cap.
	assert.Greater(t, job.Confidence, float64(missingRequiredCap))
	assert.Equal(t, "MP/IFR/2024/55555", job.Candidate.ClaimNumber)
	assert.Empty(t, job.ValidationIssues)
}
