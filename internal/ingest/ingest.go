// Package ingest turns extraction payload files and digitized claim
// registers into pipeline jobs.
package ingest

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/store"
)

// Request is one ingestion envelope: a region scope plus the raw extraction
// payload.
type Request struct {
	RegionCode string                  `json:"region_code"`
	Payload    model.ExtractionPayload `json:"payload"`
}

// Ingestor creates jobs from ingestion sources.
type Ingestor struct {
	store  store.Store
	logger *zap.Logger
}

// New creates an Ingestor.
func New(s store.Store) *Ingestor {
	return &Ingestor{
		store:  s,
		logger: zap.L().With(zap.String("component", "ingest")),
	}
}

// Submit validates one request and creates its job.
func (i *Ingestor) Submit(ctx context.Context, req Request) (*model.Job, error) {
	if req.RegionCode == "" {
		return nil, eris.New("ingest: region_code is required")
	}
	if req.Payload.DocumentType == "" {
		return nil, eris.New("ingest: payload document_type is required")
	}

	job, err := i.store.CreateJob(ctx, req.RegionCode, req.Payload)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create job")
	}

	i.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("region_code", job.RegionCode),
		zap.String("document_type", req.Payload.DocumentType),
	)
	return job, nil
}

// File ingests a JSON file holding a single request or an array of requests
// and returns the created jobs.
func (i *Ingestor) File(ctx context.Context, path string) ([]*model.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}

	var reqs []Request
	if err := json.Unmarshal(data, &reqs); err != nil {
		var single Request
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, eris.Wrapf(err, "ingest: parse %s", path)
		}
		reqs = []Request{single}
	}

	jobs := make([]*model.Job, 0, len(reqs))
	for n, req := range reqs {
		job, err := i.Submit(ctx, req)
		if err != nil {
			return jobs, eris.Wrapf(err, "ingest: entry %d", n)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
