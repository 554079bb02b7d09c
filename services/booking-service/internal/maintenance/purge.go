// Package maintenance runs periodic housekeeping for the booking service.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultSpec = "@daily"

// Purger deletes settled outbox records. Expired job leases need no sweep:
// Claim picks them up again on its own.
type Purger interface {
	PurgeCompleted(ctx context.Context, before time.Time) (int64, error)
}

type Config struct {
	Spec      string
	Retention time.Duration
}

type Janitor struct {
	store  Purger
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewJanitor(store Purger, logger *slog.Logger, cfg Config) *Janitor {
	if cfg.Spec == "" {
		cfg.Spec = defaultSpec
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Start schedules the purge. An invalid spec falls back to @daily.
func (j *Janitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	c := cron.New()
	if _, err := c.AddFunc(j.cfg.Spec, func() { j.RunOnce(runCtx) }); err != nil {
		j.logger.Warn("invalid maintenance cron spec, falling back", "spec", j.cfg.Spec, "fallback", defaultSpec, "err", err)
		c = cron.New()
		_, _ = c.AddFunc(defaultSpec, func() { j.RunOnce(runCtx) })
	}
	c.Start()
	j.cron = c
}

// Stop cancels in-flight runs and waits for them to return.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

func (j *Janitor) RunOnce(ctx context.Context) int64 {
	cutoff := j.now().Add(-j.cfg.Retention)
	n, err := j.store.PurgeCompleted(ctx, cutoff)
	if err != nil {
		j.logger.Error("outbox purge failed", "err", err)
		return 0
	}
	if n > 0 {
		j.logger.Info("outbox purged", "removed", n, "before", cutoff)
	}
	return n
}
