package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	otelx "github.com/md-rashed-zaman/bookingengine/libs/otel"
)

// JobStore leases and settles outbox jobs. Claim increments Attempts and
// hides the returned jobs from other claimers until lease expires.
type JobStore interface {
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Job, error)
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, nextRunAt time.Time, lastError string) error
	Fail(ctx context.Context, id string, lastError string) error
}

type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	JobTimeout   time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

type Worker struct {
	store    JobStore
	handlers map[string]Handler
	logger   *slog.Logger
	cfg      WorkerConfig
	now      func() time.Time
}

func NewWorker(store JobStore, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:    store,
		handlers: map[string]Handler{},
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (w *Worker) Register(subscriber string, h Handler) {
	w.handlers[subscriber] = h
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("outbox batch failed", "err", err)
			}
		}
	}
}

// RunOnce claims one batch and processes it, returning how many jobs ran.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	// The lease outlives the job timeout so a slow job is not picked up twice.
	jobs, err := w.store.Claim(ctx, w.cfg.BatchSize, w.cfg.JobTimeout+time.Minute)
	if err != nil {
		return 0, err
	}
	// Settle errors do not stop the batch.
	var errs []error
	for _, job := range jobs {
		if err := w.process(ctx, job); err != nil {
			w.logger.Error("outbox job not settled", "job_id", job.ID, "err", err)
			errs = append(errs, err)
		}
	}
	return len(jobs), errors.Join(errs...)
}

func (w *Worker) process(ctx context.Context, job Job) error {
	jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
	jobCtx, span := otel.Tracer("booking-service/outbox").Start(jobCtx, "outbox.job "+job.Subscriber)
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", job.ID),
		attribute.String("event_type", string(job.Event.Type)),
		attribute.String("appointment_id", job.Event.AppointmentID),
		attribute.Int("attempt", job.Attempts),
	)

	log := w.logger.With("job_id", job.ID, "subscriber", job.Subscriber, "event_type", job.Event.Type, "appointment_id", job.Event.AppointmentID)

	h, ok := w.handlers[job.Subscriber]
	if !ok {
		log.Error("outbox job has no handler")
		return w.store.Fail(ctx, job.ID, "no handler for subscriber "+job.Subscriber)
	}

	runCtx, cancel := context.WithTimeout(jobCtx, w.cfg.JobTimeout)
	err := h.Handle(runCtx, job)
	cancel()

	if err == nil {
		return w.store.Complete(ctx, job.ID)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "job failed")

	if IsPermanent(err) || job.FinalAttempt() {
		log.Error("outbox job failed permanently", "attempts", job.Attempts, "err", err)
		return w.store.Fail(ctx, job.ID, err.Error())
	}
	next := w.now().Add(w.Backoff(job.Attempts))
	log.Warn("outbox job failed, retrying", "attempts", job.Attempts, "next_run_at", next, "err", err)
	return w.store.Retry(ctx, job.ID, next, err.Error())
}

// Backoff doubles from BackoffBase per attempt, capped at BackoffMax.
func (w *Worker) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := w.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.cfg.BackoffMax {
			return w.cfg.BackoffMax
		}
	}
	if d > w.cfg.BackoffMax {
		return w.cfg.BackoffMax
	}
	return d
}
