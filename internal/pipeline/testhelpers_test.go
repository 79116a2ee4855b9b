package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gramveda/claim-intake/internal/config"
	"github.com/gramveda/claim-intake/internal/gazetteer"
	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/resilience"
	"github.com/gramveda/claim-intake/internal/store"
)

const minuteTTL = time.Minute

func assertPermanent(t *testing.T, err error) {
	t.Helper()
	require.True(t, resilience.IsPermanent(err), "expected permanent error, got %v", err)
}

func testConfig() *config.Config {
	return &config.Config{
		Geocode: config.GeocodeConfig{
			SimilarityThreshold: 0.75,
			LookupsPerSecond:    0,
		},
		Dedup: config.DedupConfig{
			NameSimilarityThreshold: 0.8,
			ProximityMeters:         100,
			FlagThreshold:           80,
			DisclosureThreshold:     40,
		},
		Conflict: config.ConflictConfig{
			HighOverlapPct:   50,
			MediumOverlapPct: 10,
		},
		Review: config.ReviewConfig{
			CommitConfidence: 70,
			SLAHours:         72,
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	cfg := testConfig()
	resolver := gazetteer.NewResolver(s, cfg.Geocode.SimilarityThreshold, cfg.Geocode.LookupsPerSecond, cfg.Geocode.MaxCandidates)
	claimTypes, err := config.LoadClaimTypes("")
	require.NoError(t, err)

	return NewEngine(cfg, s, resolver, claimTypes), s
}

// polyGeoJSON builds a rectangle from (lng, lat) to (lng+w, lat+h).
func polyGeoJSON(lng, lat, w, h float64) json.RawMessage {
	poly := map[string]any{
		"type": "Polygon",
		"coordinates": [][][]float64{{
			{lng, lat}, {lng + w, lat}, {lng + w, lat + h}, {lng, lat + h}, {lng, lat},
		}},
	}
	b, _ := json.Marshal(poly)
	return b
}

func seedVillage(t *testing.T, s store.Store) model.Village {
	t.Helper()
	v := model.Village{
		Name:        "Bhamragad",
		State:       "Maharashtra",
		District:    "Gadchiroli",
		Block:       "Bhamragad",
		CentroidLng: 80.6,
		CentroidLat: 19.4,
		Boundary:    polyGeoJSON(80.55, 19.35, 0.1, 0.1),
	}
	require.NoError(t, s.UpsertVillage(context.Background(), &v))
	return v
}

func fullPayload() model.ExtractionPayload {
	return model.ExtractionPayload{
		DocumentType: "patta",
		ClaimNumber:  model.Field{Value: "MP/IFR/2024/12345", Confidence: 95},
		PattaHolder:  model.Field{Value: "sukhram netam", Confidence: 92},
		Village:      model.Field{Value: "Bhamragad", Confidence: 94},
		District:     model.Field{Value: "Gadchiroli", Confidence: 95},
		State:        model.Field{Value: "Maharashtra", Confidence: 96},
		LandExtent:   model.Field{Value: "2.5 acres", Confidence: 90},
		Coordinates:  model.Field{Value: "19.40, 80.60", Confidence: 88},
		ClaimType:    model.Field{Value: "Individual", Confidence: 93},
		ClaimDate:    model.Field{Value: "2024-03-15", Confidence: 85},
	}
}

// runToRest drives a job through claimed stages until it terminates or
// suspends for review.
func runToRest(t *testing.T, e *Engine, s store.Store, jobID string) *model.Job {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		job, err := s.ClaimJob(ctx, WorkerStages(), time.Minute)
		require.NoError(t, err)
		if job == nil {
			break
		}
		require.NoError(t, e.Execute(ctx, job))
		require.NoError(t, s.UpdateJob(ctx, job, job.LeaseToken))
	}

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	return job
}
