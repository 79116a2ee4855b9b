package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gramveda/claim-intake/internal/config"
	"github.com/gramveda/claim-intake/internal/store"
)

// SLAChecker periodically scans the review queue for jobs older than the
// review SLA and reports them. A breach is advisory; the job stays queued.
type SLAChecker struct {
	store    store.Store
	notifier Notifier
	cfg      config.ReviewConfig

	// reported tracks jobs already notified so a breach fires once per
	// checker lifetime, not once per tick.
	reported map[string]bool
}

// NewSLAChecker creates a background review-SLA checker.
func NewSLAChecker(s store.Store, n Notifier, cfg config.ReviewConfig) *SLAChecker {
	return &SLAChecker{
		store:    s,
		notifier: n,
		cfg:      cfg,
		reported: make(map[string]bool),
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *SLAChecker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.SLACheckMins) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	log := zap.L().With(zap.String("component", "notify.sla"))
	log.Info("starting review SLA checker",
		zap.Duration("interval", interval),
		zap.Int("sla_hours", c.cfg.SLAHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("review SLA checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check runs one SLA scan. Exposed for the serve command's manual trigger.
func (c *SLAChecker) Check(ctx context.Context, log *zap.Logger) {
	age := time.Duration(c.cfg.SLAHours) * time.Hour
	if age <= 0 {
		return
	}

	overdue, err := c.store.ListReviewPendingOlderThan(ctx, age)
	if err != nil {
		log.Error("sla: list overdue reviews", zap.Error(err))
		return
	}

	fresh := overdue[:0:0]
	for _, j := range overdue {
		if !c.reported[j.ID] {
			fresh = append(fresh, j)
		}
	}
	if len(fresh) == 0 {
		return
	}

	if err := c.notifier.ReviewOverdue(ctx, fresh); err != nil {
		log.Warn("sla: notify overdue reviews", zap.Error(err))
		return
	}
	for _, j := range fresh {
		c.reported[j.ID] = true
	}
	log.Info("sla: overdue reviews reported", zap.Int("count", len(fresh)))
}
