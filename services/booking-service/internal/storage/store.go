// Package storage is the Postgres implementation of the booking service's
// persistence. The no-overlap guarantee lives in the appointments exclusion
// constraints; LockSchedule only narrows the window in which they fire.
package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/bookingengine/libs/db"
	otelx "github.com/md-rashed-zaman/bookingengine/libs/otel"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/outbox"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool        *db.Pool
	router      *outbox.Router
	maxAttempts int
}

func New(pool *db.Pool, router *outbox.Router, maxAttempts int) *Store {
	if router == nil {
		router = outbox.DefaultRouter()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Store{pool: pool, router: router, maxAttempts: maxAttempts}
}

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// mapErr translates driver errors into model sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case IsNotFound(err):
		return model.ErrNotFound
	case IsConflict(err):
		return model.ErrOverlap
	}
	return err
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) InTx(ctx context.Context, fn func(booking.Tx) error) error {
	return s.pool.InTx(ctx, func(t pgx.Tx) error {
		return fn(&tx{tx: t, store: s})
	})
}

type tx struct {
	tx    pgx.Tx
	store *Store
}

// LockSchedule takes transaction-scoped advisory locks, owner first and then
// venue, so two writers sharing a venue always lock in the same order.
func (t *tx) LockSchedule(ctx context.Context, ownerID, venueID string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "owner:"+ownerID); err != nil {
		return err
	}
	if venueID == "" {
		return nil
	}
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "venue:"+venueID)
	return err
}

// Emit writes the event row for the relay and one job per subscriber.
func (t *tx) Emit(ctx context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err = t.tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, event_type, aggregate_id, owner_id, payload, traceparent, tracestate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, evt.ID, string(evt.Type), evt.AppointmentID, evt.OwnerID, payload, traceparent, tracestate, evt.OccurredAt)
	if err != nil {
		return err
	}
	for _, sub := range t.store.router.Subscribers(evt.Type) {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO outbox_jobs (id, event_id, subscriber, payload, max_attempts, next_run_at, traceparent, tracestate)
			VALUES ($1, $2, $3, $4, $5, now(), $6, $7)
			ON CONFLICT (event_id, subscriber) DO NOTHING
		`, uuid.NewString(), evt.ID, sub, payload, t.store.maxAttempts, traceparent, tracestate)
		if err != nil {
			return err
		}
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func newID() string { return uuid.NewString() }
