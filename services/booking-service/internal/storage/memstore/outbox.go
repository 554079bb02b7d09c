package memstore

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/outbox"
)

// Job status values, shared with the SQL schema.
const (
	JobPending = "pending"
	JobDone    = "done"
	JobFailed  = "failed"
)

func (s *Store) Claim(_ context.Context, limit int, lease time.Duration) ([]outbox.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var out []outbox.Job
	for _, id := range s.jobOrder {
		if len(out) >= limit {
			break
		}
		row, ok := s.jobs[id]
		if !ok || row.status != JobPending || row.job.NextRunAt.After(now) || row.lockedUntil.After(now) {
			continue
		}
		// copy so earlier snapshots taken by InTx stay untouched
		next := *row
		next.job.Attempts++
		next.lockedUntil = now.Add(lease)
		next.updatedAt = now
		s.jobs[id] = &next
		out = append(out, next.job)
	}
	return out, nil
}

func (s *Store) settle(id string, fn func(*jobRow)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[id]
	if !ok {
		return model.ErrNotFound
	}
	next := *row
	fn(&next)
	next.lockedUntil = time.Time{}
	next.updatedAt = s.Now()
	s.jobs[id] = &next
	return nil
}

func (s *Store) Complete(_ context.Context, id string) error {
	return s.settle(id, func(r *jobRow) { r.status = JobDone })
}

func (s *Store) Retry(_ context.Context, id string, nextRunAt time.Time, lastError string) error {
	return s.settle(id, func(r *jobRow) {
		r.job.NextRunAt = nextRunAt
		r.lastError = lastError
	})
}

func (s *Store) Fail(_ context.Context, id string, lastError string) error {
	return s.settle(id, func(r *jobRow) {
		r.status = JobFailed
		r.lastError = lastError
	})
}

// PurgeCompleted drops finished jobs and published events older than before.
func (s *Store) PurgeCompleted(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	order := s.jobOrder[:0]
	for _, id := range s.jobOrder {
		row := s.jobs[id]
		if row.status == JobDone && row.updatedAt.Before(before) {
			delete(s.jobs, id)
			n++
			continue
		}
		order = append(order, id)
	}
	s.jobOrder = order
	records := s.records[:0]
	for _, r := range s.records {
		if at, ok := s.published[r.ID]; ok && at.Before(before) {
			delete(s.published, r.ID)
			n++
			continue
		}
		records = append(records, r)
	}
	s.records = records
	return n, nil
}

// RelayBatch passes unpublished records to fn and marks them published when it succeeds.
func (s *Store) RelayBatch(_ context.Context, limit int, fn func([]outbox.Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var batch []outbox.Record
	for _, r := range s.records {
		if _, done := s.published[r.ID]; done {
			continue
		}
		batch = append(batch, r)
		if len(batch) >= limit {
			break
		}
	}
	if err := fn(batch); err != nil {
		return err
	}
	now := s.Now()
	for _, r := range batch {
		s.published[r.ID] = now
	}
	return nil
}

// JobStatus reports a job's status and last error, for tests and diagnostics.
func (s *Store) JobStatus(id string) (string, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[id]
	if !ok {
		return "", "", false
	}
	return row.status, row.lastError, true
}

// Jobs lists jobs in creation order.
func (s *Store) Jobs() []outbox.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Job, 0, len(s.jobOrder))
	for _, id := range s.jobOrder {
		out = append(out, s.jobs[id].job)
	}
	return out
}
