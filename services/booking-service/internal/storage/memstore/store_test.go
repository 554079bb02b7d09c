package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/outbox"
)

var base = time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

func newStore() (*Store, *time.Time) {
	now := base
	s := New(outbox.DefaultRouter())
	s.Now = func() time.Time { return now }
	return s, &now
}

func appt(id string, startHour int) model.Appointment {
	start := base.Add(time.Duration(startHour) * time.Hour)
	return model.Appointment{ID: id, OwnerID: "o1", StartTime: start, EndTime: start.Add(time.Hour), Status: model.StatusConfirmed}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx booking.Tx) error {
		a := appt("a1", 1)
		if err := tx.Insert(ctx, &a); err != nil {
			return err
		}
		if err := tx.Emit(ctx, events.New(events.AppointmentCreated, a, base)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.Get(ctx, "a1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected rollback of the row, got %v", err)
	}
	if len(s.Jobs()) != 0 {
		t.Fatalf("expected rollback of jobs, got %d", len(s.Jobs()))
	}
}

func TestInsert_ExclusionPerOwnerAndVenue(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	err := s.InTx(ctx, func(tx booking.Tx) error {
		a := appt("a1", 1)
		a.VenueID = "v1"
		if err := tx.Insert(ctx, &a); err != nil {
			return err
		}
		same := appt("a2", 1)
		if err := tx.Insert(ctx, &same); !errors.Is(err, model.ErrOverlap) {
			t.Fatalf("expected owner overlap, got %v", err)
		}
		otherOwner := appt("a3", 1)
		otherOwner.OwnerID, otherOwner.VenueID = "o2", "v1"
		if err := tx.Insert(ctx, &otherOwner); !errors.Is(err, model.ErrOverlap) {
			t.Fatalf("expected venue overlap, got %v", err)
		}
		adjacent := appt("a4", 2)
		adjacent.VenueID = "v1"
		return tx.Insert(ctx, &adjacent)
	})
	if err != nil {
		t.Fatalf("adjacent booking rejected: %v", err)
	}
}

func TestClaim_LeaseRetryAndPurge(t *testing.T) {
	router := outbox.NewRouter()
	router.Subscribe(events.AppointmentRestored, outbox.SubscriberReconcile)
	now := base
	s := New(router)
	s.Now = func() time.Time { return now }
	ctx := context.Background()
	if err := s.InTx(ctx, func(tx booking.Tx) error {
		return tx.Emit(ctx, events.New(events.AppointmentRestored, appt("a1", 1), base))
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	jobs, _ := s.Claim(ctx, 10, time.Minute)
	if len(jobs) != 1 || jobs[0].Attempts != 1 || jobs[0].Subscriber != outbox.SubscriberReconcile {
		t.Fatalf("unexpected claim %+v", jobs)
	}
	if again, _ := s.Claim(ctx, 10, time.Minute); len(again) != 0 {
		t.Fatalf("leased job claimed twice")
	}

	now = now.Add(2 * time.Minute)
	again, _ := s.Claim(ctx, 10, time.Minute)
	if len(again) != 1 || again[0].Attempts != 2 {
		t.Fatalf("expired lease not reclaimed: %+v", again)
	}

	if err := s.Retry(ctx, again[0].ID, now.Add(time.Hour), "later"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if due, _ := s.Claim(ctx, 10, time.Minute); len(due) != 0 {
		t.Fatalf("job claimed before next_run_at")
	}
	status, lastErr, _ := s.JobStatus(again[0].ID)
	if status != JobPending || lastErr != "later" {
		t.Fatalf("unexpected status %s %q", status, lastErr)
	}

	_ = s.Complete(ctx, again[0].ID)
	if err := s.RelayBatch(ctx, 10, func([]outbox.Record) error { return nil }); err != nil {
		t.Fatalf("relay: %v", err)
	}
	now = now.Add(48 * time.Hour)
	n, err := s.PurgeCompleted(ctx, now.Add(-time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("expected job and event purged, got %d %v", n, err)
	}
	if len(s.Jobs()) != 0 {
		t.Fatalf("jobs remain after purge")
	}
}

func TestRelayBatch_FailureLeavesUnpublished(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	_ = s.InTx(ctx, func(tx booking.Tx) error {
		return tx.Emit(ctx, events.New(events.AppointmentCreated, appt("a1", 1), base))
	})
	_ = s.RelayBatch(ctx, 10, func([]outbox.Record) error { return errors.New("kafka down") })
	var seen int
	_ = s.RelayBatch(ctx, 10, func(batch []outbox.Record) error { seen = len(batch); return nil })
	if seen != 1 {
		t.Fatalf("expected record to be relayed again, got %d", seen)
	}
}

func TestUpsertContact_MergesByEmail(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	created, _ := s.UpsertContact(ctx, model.Contact{OwnerID: "o1", Email: "Ada@Example.com", Name: "Ada", Company: "Engines"})
	if !created {
		t.Fatalf("expected insert")
	}
	created, _ = s.UpsertContact(ctx, model.Contact{OwnerID: "o1", Email: "ada@example.com", Phone: "+1 555 0100"})
	if created {
		t.Fatalf("expected update")
	}
	contacts, _ := s.ContactsByOwner(ctx, "o1")
	if len(contacts) != 1 || contacts[0].Name != "Ada" || contacts[0].Company != "Engines" || contacts[0].Phone != "+1 555 0100" {
		t.Fatalf("unexpected contacts %+v", contacts)
	}
}

func TestSaveSettings_SlugUnique(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	if err := s.SaveSettings(ctx, model.BookingSetting{OwnerID: "o1", Slug: "studio"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveSettings(ctx, model.BookingSetting{OwnerID: "o2", Slug: "Studio"}); !errors.Is(err, model.ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
	if err := s.SaveSettings(ctx, model.BookingSetting{OwnerID: "o1", Slug: "studio", Enabled: true}); err != nil {
		t.Fatalf("owner should be able to resave own slug: %v", err)
	}
}
