package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/outbox"
)

// Claim leases up to limit due jobs. A job whose lease expired without being
// settled is due again.
func (s *Store) Claim(ctx context.Context, limit int, lease time.Duration) ([]outbox.Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE outbox_jobs
		SET attempts = attempts + 1,
			locked_until = now() + make_interval(secs => $2),
			updated_at = now()
		WHERE id IN (
			SELECT id
			FROM outbox_jobs
			WHERE status = 'pending'
				AND next_run_at <= now()
				AND (locked_until IS NULL OR locked_until <= now())
			ORDER BY next_run_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, subscriber, payload, attempts, max_attempts, next_run_at, traceparent, tracestate
	`, limit, lease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []outbox.Job
	for rows.Next() {
		var j outbox.Job
		var raw []byte
		if err := rows.Scan(&j.ID, &j.Subscriber, &raw, &j.Attempts, &j.MaxAttempts, &j.NextRunAt, &j.Traceparent, &j.Tracestate); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &j.Event); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (s *Store) Complete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_jobs
		SET status = 'done', locked_until = NULL, updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (s *Store) Retry(ctx context.Context, id string, nextRunAt time.Time, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_jobs
		SET next_run_at = $2, last_error = $3, locked_until = NULL, updated_at = now()
		WHERE id = $1
	`, id, nextRunAt, lastError)
	return err
}

func (s *Store) Fail(ctx context.Context, id string, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_jobs
		SET status = 'failed', last_error = $2, locked_until = NULL, updated_at = now()
		WHERE id = $1
	`, id, lastError)
	return err
}

// PurgeCompleted removes done jobs and published events last touched before cutoff.
func (s *Store) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	jobs, err := s.pool.Exec(ctx, `DELETE FROM outbox_jobs WHERE status = 'done' AND updated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	evts, err := s.pool.Exec(ctx, `DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < $1`, before)
	if err != nil {
		return jobs.RowsAffected(), err
	}
	return jobs.RowsAffected() + evts.RowsAffected(), nil
}

// RelayBatch locks a batch of unpublished events for the duration of fn.
func (s *Store) RelayBatch(ctx context.Context, limit int, fn func([]outbox.Record) error) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, event_id, event_type, aggregate_id, owner_id, payload, traceparent, tracestate, created_at
			FROM outbox_events
			WHERE published_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return err
		}
		var records []outbox.Record
		for rows.Next() {
			var r outbox.Record
			if err := rows.Scan(&r.ID, &r.EventID, &r.EventType, &r.AggregateID, &r.OwnerID, &r.Payload, &r.Traceparent, &r.Tracestate, &r.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			records = append(records, r)
		}
		rows.Close()
		if rows.Err() != nil {
			return rows.Err()
		}
		if len(records) == 0 {
			return nil
		}
		if err := fn(records); err != nil {
			return err
		}
		ids := make([]int64, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		_, err = tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids)
		return err
	})
}
