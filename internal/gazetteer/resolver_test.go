package gazetteer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/store"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Bhamragad", "bhamragad"))
	assert.Equal(t, 0.0, Similarity("", "Bhamragad"))
	assert.Equal(t, 0.0, Similarity("xyz", "abc"))

	// Minor spelling variants should score high, unrelated names low.
	variant := Similarity("Bhamragad", "Bhamragarh")
	unrelated := Similarity("Bhamragad", "Etapalli")
	assert.Greater(t, variant, 0.5)
	assert.Less(t, unrelated, 0.2)
	assert.Greater(t, variant, unrelated)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "bhamragad", Normalize("  Bhamragad "))
	assert.Equal(t, "naya gaon", Normalize("Naya   Gaon"))
}

func seedGazetteer(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "gaz.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	for _, v := range []model.Village{
		{Name: "Bhamragad", State: "Maharashtra", District: "Gadchiroli", Block: "Bhamragad", CentroidLng: 80.6, CentroidLat: 19.4},
		{Name: "Etapalli", State: "Maharashtra", District: "Gadchiroli", Block: "Etapalli", CentroidLng: 80.2, CentroidLat: 19.9},
		{Name: "Naya Gaon", State: "Maharashtra", District: "Gadchiroli", Block: "Etapalli", CentroidLng: 80.3, CentroidLat: 19.8},
	} {
		village := v
		require.NoError(t, s.UpsertVillage(ctx, &village))
	}
	return s
}

func TestResolveExact(t *testing.T) {
	r := NewResolver(seedGazetteer(t), 0.75, 0, 0)

	res, err := r.Resolve(context.Background(), "Bhamragad", "Maharashtra", "Gadchiroli", "")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Exact)
	assert.False(t, res.Ambiguous)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, "Bhamragad", res.Hierarchy.Village)
	assert.Equal(t, "Gadchiroli", res.Hierarchy.District)
	assert.NotEmpty(t, res.Hierarchy.VillageID)
}

func TestResolveFuzzy(t *testing.T) {
	r := NewResolver(seedGazetteer(t), 0.5, 0, 0)

	res, err := r.Resolve(context.Background(), "Bhamragarh", "Maharashtra", "Gadchiroli", "")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Exact)
	assert.Equal(t, "Bhamragad", res.Village.Name)
	assert.Greater(t, res.Confidence, 0.5)
	assert.Less(t, res.Confidence, 1.0)
}

func TestResolveUnresolved(t *testing.T) {
	r := NewResolver(seedGazetteer(t), 0.75, 0, 0)

	res, err := r.Resolve(context.Background(), "Completely Unknown", "Maharashtra", "Gadchiroli", "")
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = r.Resolve(context.Background(), "", "Maharashtra", "Gadchiroli", "")
	require.NoError(t, err)
	assert.Nil(t, res)
}

// limitCapturingStore records the Limit of each village query it serves.
type limitCapturingStore struct {
	store.Store
	limits []int
}

func (s *limitCapturingStore) SearchVillages(ctx context.Context, q store.VillageQuery) ([]model.Village, error) {
	s.limits = append(s.limits, q.Limit)
	return s.Store.SearchVillages(ctx, q)
}

func TestResolveHonorsMaxCandidates(t *testing.T) {
	capture := &limitCapturingStore{Store: seedGazetteer(t)}

	r := NewResolver(capture, 0.5, 0, 7)
	res, err := r.Resolve(context.Background(), "Bhamragarh", "Maharashtra", "Gadchiroli", "")
	require.NoError(t, err)
	require.NotNil(t, res)

	// Exact pass then fuzzy pass; the fuzzy pool carries the configured cap.
	require.Len(t, capture.limits, 2)
	assert.Equal(t, 7, capture.limits[1])

	capture.limits = nil
	r = NewResolver(capture, 0.5, 0, 0)
	_, err = r.Resolve(context.Background(), "Bhamragarh", "Maharashtra", "Gadchiroli", "")
	require.NoError(t, err)
	require.Len(t, capture.limits, 2)
	assert.Equal(t, defaultMaxCandidates, capture.limits[1])
}

func TestResolveHintsNarrowCandidates(t *testing.T) {
	r := NewResolver(seedGazetteer(t), 0.75, 0, 0)

	// The block hint excludes the only exact-name candidate.
	res, err := r.Resolve(context.Background(), "Bhamragad", "Maharashtra", "Gadchiroli", "Etapalli")
	require.NoError(t, err)
	assert.Nil(t, res)
}
