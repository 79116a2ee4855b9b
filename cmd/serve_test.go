package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramveda/claim-intake/internal/ingest"
	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/pipeline"
	"github.com/gramveda/claim-intake/internal/store"
)

func newServerEnv(t *testing.T) *appEnv {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	return &appEnv{
		Store:    s,
		Review:   pipeline.NewReviewService(s),
		Ingestor: ingest.New(s),
	}
}

func serveRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeHealth(t *testing.T) {
	h := newRouter(newServerEnv(t), []string{"*"})

	rec := serveRequest(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServeIngestAndFetchJob(t *testing.T) {
	env := newServerEnv(t)
	h := newRouter(env, []string{"*"})

	rec := serveRequest(t, h, http.MethodPost, "/ingest", ingest.Request{
		RegionCode: "MH-GAD",
		Payload: model.ExtractionPayload{
			DocumentType: "patta",
			ClaimNumber:  model.Field{Value: "MP/IFR/2024/1", Confidence: 95},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		JobID string      `json:"job_id"`
		Stage model.Stage `json:"stage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, model.StageExtracted, created.Stage)

	rec = serveRequest(t, h, http.MethodGet, "/jobs/"+created.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "MP/IFR/2024/1", job.Payload.ClaimNumber.Value)

	rec = serveRequest(t, h, http.MethodGet, "/jobs?stage=extracted", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 1)
}

func TestServeIngestRejectsBadRequests(t *testing.T) {
	h := newRouter(newServerEnv(t), []string{"*"})

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveRequest(t, h, http.MethodPost, "/ingest", ingest.Request{
		Payload: model.ExtractionPayload{DocumentType: "patta"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeJobNotFound(t *testing.T) {
	h := newRouter(newServerEnv(t), []string{"*"})
	rec := serveRequest(t, h, http.MethodGet, "/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeReviewQueueAndDecision(t *testing.T) {
	env := newServerEnv(t)
	h := newRouter(env, []string{"*"})
	ctx := context.Background()

	job, err := env.Store.CreateJob(ctx, "MH-GAD", model.ExtractionPayload{DocumentType: "patta"})
	require.NoError(t, err)
	entered := job.CreatedAt
	job.Stage = model.StageReviewPending
	job.ReviewCycles = 1
	job.EnteredReviewAt = &entered
	require.NoError(t, env.Store.UpdateJob(ctx, job, ""))

	rec := serveRequest(t, h, http.MethodGet, "/review/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var queue []model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queue))
	require.Len(t, queue, 1)

	rec = serveRequest(t, h, http.MethodPost, "/review/"+job.ID+"/decision", model.ReviewDecision{
		ReviewerID: "rev-1",
		Verdict:    model.VerdictReject,
		Reason:     "illegible source document",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var decided model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decided))
	assert.Equal(t, model.StageRejected, decided.Stage)

	// Deciding a job that is no longer pending is rejected.
	rec = serveRequest(t, h, http.MethodPost, "/review/"+job.ID+"/decision", model.ReviewDecision{
		ReviewerID: "rev-1",
		Verdict:    model.VerdictApprove,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServeReviewDecisionUnknownJob(t *testing.T) {
	h := newRouter(newServerEnv(t), []string{"*"})
	rec := serveRequest(t, h, http.MethodPost, "/review/nope/decision", model.ReviewDecision{
		ReviewerID: "rev-1",
		Verdict:    model.VerdictApprove,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
