package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramveda/claim-intake/internal/config"
	"github.com/gramveda/claim-intake/internal/model"
)

func TestWebhookJobFinished(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var ev Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, EventJobFinished, ev.Type)
		assert.Equal(t, "job-1", ev.JobID)
		assert.Equal(t, model.OutcomeCommitted, ev.Outcome)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n := NewWebhook(config.NotifyConfig{WebhookURL: ts.URL})
	err := n.JobFinished(context.Background(), &model.Job{
		ID:         "job-1",
		RegionCode: "MH-GAD",
		Outcome:    model.OutcomeCommitted,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), received.Load())
}

func TestWebhookIncludesLastError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, "malformed geometry", ev.Details["last_error"])
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n := NewWebhook(config.NotifyConfig{WebhookURL: ts.URL})
	err := n.JobFinished(context.Background(), &model.Job{
		ID:        "job-2",
		Outcome:   model.OutcomeFailed,
		LastError: "malformed geometry",
	})
	require.NoError(t, err)
}

func TestWebhookReviewOverdue(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, EventReviewOverdue, ev.Type)
		assert.EqualValues(t, 2, ev.Details["count"])
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n := NewWebhook(config.NotifyConfig{WebhookURL: ts.URL})
	err := n.ReviewOverdue(context.Background(), []model.Job{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
}

func TestWebhookEmptyURLDropsEvents(t *testing.T) {
	n := NewWebhook(config.NotifyConfig{})
	assert.NoError(t, n.JobFinished(context.Background(), &model.Job{ID: "x"}))
}

func TestWebhookErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	n := NewWebhook(config.NotifyConfig{WebhookURL: ts.URL})
	err := n.JobFinished(context.Background(), &model.Job{ID: "x"})
	assert.Error(t, err)
}
