package notify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gramveda/claim-intake/internal/config"
	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/store"
)

type recordingNotifier struct {
	overdue [][]model.Job
	fail    bool
}

func (r *recordingNotifier) JobFinished(context.Context, *model.Job) error { return nil }

func (r *recordingNotifier) ReviewOverdue(_ context.Context, jobs []model.Job) error {
	if r.fail {
		return assert.AnError
	}
	r.overdue = append(r.overdue, jobs)
	return nil
}

func newSLAStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "sla.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func suspendedJob(t *testing.T, s store.Store, age time.Duration) *model.Job {
	t.Helper()
	ctx := context.Background()
	job, err := s.CreateJob(ctx, "MH-GAD", model.ExtractionPayload{})
	require.NoError(t, err)
	entered := time.Now().UTC().Add(-age)
	job.Stage = model.StageReviewPending
	job.ReviewCycles = 1
	job.EnteredReviewAt = &entered
	require.NoError(t, s.UpdateJob(ctx, job, ""))
	return job
}

func TestSLACheckReportsOverdueOnce(t *testing.T) {
	s := newSLAStore(t)
	overdue := suspendedJob(t, s, 100*time.Hour)
	suspendedJob(t, s, time.Hour) // within SLA, not reported

	rec := &recordingNotifier{}
	c := NewSLAChecker(s, rec, config.ReviewConfig{SLAHours: 72, SLACheckMins: 30})

	log := zap.NewNop()
	c.Check(context.Background(), log)
	require.Len(t, rec.overdue, 1)
	require.Len(t, rec.overdue[0], 1)
	assert.Equal(t, overdue.ID, rec.overdue[0][0].ID)

	// A second scan stays quiet for the same job.
	c.Check(context.Background(), log)
	assert.Len(t, rec.overdue, 1)
}

func TestSLACheckRetriesAfterNotifyFailure(t *testing.T) {
	s := newSLAStore(t)
	suspendedJob(t, s, 100*time.Hour)

	rec := &recordingNotifier{fail: true}
	c := NewSLAChecker(s, rec, config.ReviewConfig{SLAHours: 72})

	log := zap.NewNop()
	c.Check(context.Background(), log)
	require.Empty(t, rec.overdue)

	// The failed delivery is retried on the next tick.
	rec.fail = false
	c.Check(context.Background(), log)
	assert.Len(t, rec.overdue, 1)
}

func TestSLACheckDisabledWithoutSLA(t *testing.T) {
	s := newSLAStore(t)
	suspendedJob(t, s, 100*time.Hour)

	rec := &recordingNotifier{}
	c := NewSLAChecker(s, rec, config.ReviewConfig{})
	c.Check(context.Background(), zap.NewNop())
	assert.Empty(t, rec.overdue)
}
