// Package dispatch runs the worker pool that pulls leased jobs from the
// store and drives them through the pipeline engine.
package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gramveda/claim-intake/internal/config"
	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/notify"
	"github.com/gramveda/claim-intake/internal/pipeline"
	"github.com/gramveda/claim-intake/internal/resilience"
	"github.com/gramveda/claim-intake/internal/store"
)

// Dispatcher claims runnable jobs and executes one stage at a time under a
// renewable lease. Stage handlers never write the job back themselves; the
// dispatcher owns the lease-guarded write.
type Dispatcher struct {
	cfg      *config.Config
	store    store.Store
	engine   *pipeline.Engine
	notifier notify.Notifier
	logger   *zap.Logger
}

// New creates a Dispatcher. notifier may be nil when outcome delivery is not
// configured.
func New(cfg *config.Config, s store.Store, e *pipeline.Engine, n notify.Notifier) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		store:    s,
		engine:   e,
		notifier: n,
		logger:   zap.L().With(zap.String("component", "dispatch")),
	}
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	workers := d.cfg.Dispatch.WorkersPerStage
	if workers <= 0 {
		workers = 4
	}

	d.logger.Info("starting dispatcher",
		zap.Int("workers", workers),
		zap.Int("lease_ttl_secs", d.cfg.Dispatch.LeaseTTLSecs),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		id := i
		g.Go(func() error {
			d.worker(gctx, id)
			return nil
		})
	}
	return g.Wait()
}

// worker is the claim loop: grab one job, execute its stage, write back,
// sleep only when the queue is empty.
func (d *Dispatcher) worker(ctx context.Context, id int) {
	log := d.logger.With(zap.Int("worker", id))
	poll := time.Duration(d.cfg.Dispatch.PollIntervalMs) * time.Millisecond
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	for {
		if ctx.Err() != nil {
			log.Debug("worker stopped")
			return
		}

		job, err := d.store.ClaimJob(ctx, pipeline.WorkerStages(), d.leaseTTL())
		if err != nil {
			log.Error("claim job", zap.Error(err))
			job = nil
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(poll):
			}
			continue
		}

		d.process(ctx, job, log)
	}
}

func (d *Dispatcher) leaseTTL() time.Duration {
	ttl := time.Duration(d.cfg.Dispatch.LeaseTTLSecs) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	return ttl
}

// process executes one stage for a claimed job, keeping the lease alive for
// the duration, then writes the result back.
func (d *Dispatcher) process(ctx context.Context, job *model.Job, log *zap.Logger) {
	log = log.With(zap.String("job_id", job.ID), zap.String("stage", string(job.Stage)))

	stageCtx, cancel := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go d.keepLease(stageCtx, job, cancel, renewDone)

	retryCfg := resilience.FromConfig(
		d.cfg.Retry.MaxAttempts,
		d.cfg.Retry.InitialBackoffMs,
		d.cfg.Retry.MaxBackoffMs,
		d.cfg.Retry.Multiplier,
		d.cfg.Retry.JitterFraction,
	)
	retryCfg.OnRetry = resilience.RetryLogger(string(job.Stage), job.ID)

	execErr := resilience.Do(stageCtx, retryCfg, func(ctx context.Context) error {
		return d.engine.Execute(ctx, job)
	})

	cancel()
	<-renewDone

	if execErr != nil {
		if resilience.IsPermanent(execErr) || job.Attempts >= retryCfg.MaxAttempts {
			log.Error("stage failed permanently", zap.Error(execErr), zap.Int("attempts", job.Attempts))
			pipeline.Fail(job, execErr)
		} else {
			// Leave the job at its stage; a later claim retries with a
			// fresh lease and backoff already spent here.
			log.Warn("stage failed, will retry on next claim", zap.Error(execErr))
			job.LastError = execErr.Error()
		}
	}

	// Write back on the parent context so a cancelled stage still lands.
	if err := d.store.UpdateJob(ctx, job, job.LeaseToken); err != nil {
		if errors.Is(err, store.ErrLeaseLost) {
			log.Warn("lease lost, discarding stage result")
			return
		}
		log.Error("write back job", zap.Error(err))
		return
	}

	if job.Stage.Terminal() && d.notifier != nil {
		if err := d.notifier.JobFinished(ctx, job); err != nil {
			log.Warn("notify job outcome", zap.Error(err))
		}
	}
}

// keepLease renews the lease at half TTL until the stage context ends. A
// failed renewal cancels the stage so a slow worker cannot double-commit
// against a reassigned job.
func (d *Dispatcher) keepLease(ctx context.Context, job *model.Job, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)

	ttl := d.leaseTTL()
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.store.RenewLease(ctx, job.ID, job.LeaseToken, ttl); err != nil {
				if errors.Is(err, store.ErrLeaseLost) {
					d.logger.Warn("lease expired mid-stage",
						zap.String("job_id", job.ID))
					cancel()
					return
				}
				d.logger.Warn("renew lease", zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	}
}
