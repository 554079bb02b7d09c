package booking_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/storage/memstore"
)

const owner = "owner-1"

var now = time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC) // Monday

func fixture(t *testing.T) (*memstore.Store, *booking.Service) {
	t.Helper()
	store := memstore.New(outbox.DefaultRouter())
	store.Now = func() time.Time { return now }
	store.PutSettings(model.BookingSetting{OwnerID: owner, Slug: "dr-lin", Enabled: true, Timezone: "UTC", MinNoticeHours: 2, MaxDaysAhead: 30})
	var hours []model.WorkingHours
	for wd := time.Monday; wd <= time.Friday; wd++ {
		hours = append(hours, model.WorkingHours{Weekday: wd, Start: "09:00", End: "17:00"})
	}
	store.SetWorkingHours(owner, hours)
	store.PutType(model.AppointmentType{ID: "online-30", OwnerID: owner, Name: "Intro call", DurationMinutes: 30, Format: model.FormatOnline, Active: true})
	store.PutType(model.AppointmentType{ID: "visit-60", OwnerID: owner, Name: "Visit", DurationMinutes: 60, Format: model.FormatInPerson, RequiresLocation: true, RequirePhone: true, Active: true})
	store.PutVenue(model.Venue{ID: "room-1", OwnerID: owner, Name: "Room 1", Active: true})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return store, booking.NewService(store, store, store, logger, func() time.Time { return now })
}

func at(h, m int) time.Time { return time.Date(2026, 2, 2, h, m, 0, 0, time.UTC) }

func contact() booking.Contact {
	return booking.Contact{Name: "Ada Lovelace", Email: "Ada@Example.com", Phone: "+44 20 7946 0000"}
}

func TestSubmit_CreatesAppointmentAndOutboxJobs(t *testing.T) {
	store, svc := fixture(t)
	appt, err := svc.Submit(context.Background(), booking.Request{OwnerID: owner, TypeID: "online-30", Start: at(14, 0), Contact: contact()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", appt.Status)
	}
	if !appt.EndTime.Equal(at(14, 30)) {
		t.Fatalf("unexpected end %s", appt.EndTime)
	}
	if len(appt.ConfirmationToken) < 32 {
		t.Fatalf("token too short: %q", appt.ConfirmationToken)
	}
	if appt.AttendeeEmail != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", appt.AttendeeEmail)
	}
	jobs := store.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Event.Type != events.AppointmentCreated || j.Event.AppointmentID != appt.ID {
			t.Fatalf("unexpected job %+v", j)
		}
		if j.Event.Snapshot.ConfirmationToken != "" {
			t.Fatalf("token leaked into event payload")
		}
	}
}

func TestSubmit_RequiresApprovalStartsScheduled(t *testing.T) {
	store, svc := fixture(t)
	s, _ := store.Settings(context.Background(), owner)
	s.RequiresApproval = true
	store.PutSettings(s)

	appt, err := svc.Submit(context.Background(), booking.Request{OwnerID: owner, TypeID: "online-30", Start: at(14, 0), Contact: contact()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if appt.Status != model.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", appt.Status)
	}
	approved, err := svc.Approve(context.Background(), owner, appt.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", approved.Status)
	}
	if _, err := svc.Approve(context.Background(), owner, appt.ID); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSubmit_ConcurrentSameSlotExactlyOneWins(t *testing.T) {
	store, svc := fixture(t)
	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Submit(context.Background(), booking.Request{OwnerID: owner, TypeID: "online-30", Start: at(14, 0), Contact: contact()})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		var cerr *booking.ConflictError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &cerr) && errors.Is(err, booking.ErrSlotUnavailable):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one booking, got %d", wins)
	}
	booked, _ := store.Overlapping(context.Background(), model.OverlapQuery{OwnerID: owner, Start: at(14, 0), End: at(14, 30)})
	if len(booked) != 1 {
		t.Fatalf("expected 1 stored appointment, got %d", len(booked))
	}
}

func TestSubmit_InPersonWithoutVenueRoutesToVenueStep(t *testing.T) {
	store, svc := fixture(t)
	_, err := svc.Submit(context.Background(), booking.Request{OwnerID: owner, TypeID: "visit-60", Start: at(14, 0), Contact: contact()})
	var verr *booking.ValidationError
	if !errors.As(err, &verr) || !verr.VenueMissing() {
		t.Fatalf("expected venue validation error, got %v", err)
	}
	list, _ := store.ListByOwner(context.Background(), owner, time.Time{}, time.Time{}, true)
	if len(list) != 0 {
		t.Fatalf("expected no appointment rows, got %d", len(list))
	}
	if len(store.Jobs()) != 0 {
		t.Fatalf("expected no outbox jobs")
	}
}

func TestSubmit_ContactValidation(t *testing.T) {
	_, svc := fixture(t)
	_, err := svc.Submit(context.Background(), booking.Request{
		OwnerID: owner, TypeID: "visit-60", Start: at(14, 0), VenueID: "room-1",
		Contact: booking.Contact{Name: "", Email: "not-an-email"},
	})
	var verr *booking.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, f := range []string{booking.FieldName, booking.FieldEmail, booking.FieldPhone} {
		if _, ok := verr.Fields[f]; !ok {
			t.Fatalf("expected %s in %v", f, verr.Fields)
		}
	}
	if verr.VenueMissing() {
		t.Fatalf("venue was provided")
	}
}

func TestSubmit_RejectsSlotInsideNotice(t *testing.T) {
	_, svc := fixture(t)
	_, err := svc.Submit(context.Background(), booking.Request{OwnerID: owner, TypeID: "online-30", Start: at(9, 0), Contact: contact()})
	if !errors.Is(err, booking.ErrSlotUnavailable) {
		t.Fatalf("expected slot unavailable, got %v", err)
	}
}

func TestSubmit_DisabledBooking(t *testing.T) {
	store, svc := fixture(t)
	s, _ := store.Settings(context.Background(), owner)
	s.Enabled = false
	store.PutSettings(s)
	_, err := svc.Submit(context.Background(), booking.Request{OwnerID: owner, TypeID: "online-30", Start: at(14, 0), Contact: contact()})
	if !errors.Is(err, booking.ErrBookingDisabled) {
		t.Fatalf("expected ErrBookingDisabled, got %v", err)
	}
}

func TestSubmit_VenueSharedAcrossOwners(t *testing.T) {
	_, svc := fixture(t)
	ctx := context.Background()
	if _, err := svc.Submit(ctx, booking.Request{OwnerID: owner, TypeID: "visit-60", Start: at(14, 0), VenueID: "room-1", Contact: contact()}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	booked, err := svc.IsSlotBooked(ctx, "another-owner", at(14, 30), at(15, 0), "room-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !booked {
		t.Fatalf("expected venue to be booked for other owners")
	}
	free, _ := svc.IsSlotBooked(ctx, "another-owner", at(14, 30), at(15, 0), "")
	if free {
		t.Fatalf("expected other owner without venue to be free")
	}
}

func TestCancelByToken_SingleUse(t *testing.T) {
	store, svc := fixture(t)
	ctx := context.Background()
	appt, err := svc.Submit(ctx, booking.Request{OwnerID: owner, TypeID: "online-30", Start: at(14, 0), Contact: contact()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	cancelled, err := svc.CancelByToken(ctx, appt.ConfirmationToken, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.StatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled appointment %+v", cancelled)
	}
	if _, err := svc.CancelByToken(ctx, appt.ConfirmationToken, ""); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected token to be spent, got %v", err)
	}

	jobs := store.Jobs()
	last := jobs[len(jobs)-1].Event
	if last.Type != events.AppointmentUpdated || !last.BecameCancelled() {
		t.Fatalf("expected cancellation event, got %+v", last)
	}

	// the slot is free again
	if _, err := svc.Submit(ctx, booking.Request{OwnerID: owner, TypeID: "online-30", Start: at(14, 0), Contact: contact()}); err != nil {
		t.Fatalf("rebook: %v", err)
	}
}

func TestReschedule(t *testing.T) {
	_, svc := fixture(t)
	ctx := context.Background()
	first, _ := svc.Submit(ctx, booking.Request{OwnerID: owner, TypeID: "online-30", Start: at(14, 0), Contact: contact()})
	second, _ := svc.Submit(ctx, booking.Request{OwnerID: owner, TypeID: "online-30", Start: at(15, 0), Contact: contact()})

	if _, err := svc.Reschedule(ctx, owner, second.ID, at(14, 0)); !errors.Is(err, booking.ErrSlotUnavailable) {
		t.Fatalf("expected conflict, got %v", err)
	}
	moved, err := svc.Reschedule(ctx, owner, first.ID, at(14, 30))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !moved.StartTime.Equal(at(14, 30)) || !moved.EndTime.Equal(at(15, 0)) {
		t.Fatalf("unexpected interval %s-%s", moved.StartTime, moved.EndTime)
	}
	if _, err := svc.Reschedule(ctx, "someone-else", first.ID, at(16, 0)); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
}

func TestReschedule_RespectsVenueWindow(t *testing.T) {
	store, svc := fixture(t)
	ctx := context.Background()
	store.PutVenue(model.Venue{ID: "studio", OwnerID: owner, Name: "Studio", Active: true, AvailableFrom: "09:00", AvailableUntil: "12:00"})
	appt, err := svc.Submit(ctx, booking.Request{OwnerID: owner, TypeID: "visit-60", Start: at(10, 0), VenueID: "studio", Contact: contact()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = svc.Reschedule(ctx, owner, appt.ID, at(13, 0))
	var verr *booking.ValidationError
	if !errors.As(err, &verr) || verr.Fields[booking.FieldVenue] == "" {
		t.Fatalf("expected venue window violation, got %v", err)
	}
	stored, _ := store.Get(ctx, appt.ID)
	if !stored.StartTime.Equal(at(10, 0)) {
		t.Fatalf("rejected reschedule moved the appointment to %s", stored.StartTime)
	}

	moved, err := svc.Reschedule(ctx, owner, appt.ID, at(11, 0))
	if err != nil {
		t.Fatalf("reschedule inside window: %v", err)
	}
	if !moved.EndTime.Equal(at(12, 0)) {
		t.Fatalf("unexpected end %s", moved.EndTime)
	}
}

func TestDeleteRestoreForceDelete(t *testing.T) {
	store, svc := fixture(t)
	ctx := context.Background()
	appt, _ := svc.Submit(ctx, booking.Request{OwnerID: owner, TypeID: "online-30", Start: at(14, 0), Contact: contact()})

	if err := svc.Delete(ctx, owner, appt.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// the slot is free while soft-deleted
	other, err := svc.Submit(ctx, booking.Request{OwnerID: owner, TypeID: "online-30", Start: at(14, 0), Contact: contact()})
	if err != nil {
		t.Fatalf("rebook: %v", err)
	}
	if _, err := svc.Restore(ctx, owner, appt.ID); !errors.Is(err, booking.ErrSlotUnavailable) {
		t.Fatalf("expected restore conflict, got %v", err)
	}
	if err := svc.ForceDelete(ctx, owner, other.ID); err != nil {
		t.Fatalf("force delete: %v", err)
	}
	restored, err := svc.Restore(ctx, owner, appt.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.DeletedAt != nil {
		t.Fatalf("expected deleted_at cleared")
	}
	if _, err := store.Get(ctx, other.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected hard-deleted row gone, got %v", err)
	}

	var sawForce bool
	for _, j := range store.Jobs() {
		if j.Event.Type == events.AppointmentDeleted && j.Event.Force && j.Event.AppointmentID == other.ID {
			sawForce = true
		}
	}
	if !sawForce {
		t.Fatalf("expected force delete event")
	}
}

func TestAttachMeeting_EmitsOnlyOnChange(t *testing.T) {
	store, svc := fixture(t)
	ctx := context.Background()
	appt, _ := svc.Submit(ctx, booking.Request{OwnerID: owner, TypeID: "online-30", Start: at(14, 0), Contact: contact()})
	before := len(store.Jobs())

	m := booking.Meeting{Platform: model.MeetingPlatformZoom, URL: "https://zoom.us/j/1", ID: "1"}
	if _, err := svc.AttachMeeting(ctx, appt.ID, m); err != nil {
		t.Fatalf("attach: %v", err)
	}
	afterFirst := len(store.Jobs())
	if afterFirst == before {
		t.Fatalf("expected update event")
	}
	if _, err := svc.AttachMeeting(ctx, appt.ID, m); err != nil {
		t.Fatalf("attach again: %v", err)
	}
	if len(store.Jobs()) != afterFirst {
		t.Fatalf("expected no event for unchanged meeting")
	}
}
