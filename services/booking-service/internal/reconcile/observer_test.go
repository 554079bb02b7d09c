package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/storage/memstore"
)

const owner = "owner-1"

var now = time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)

type fakeCalendar struct {
	inserts  int
	updates  int
	deleted  []string
	pushErr  error
	events   map[string]bool
	conflict bool
}

func (c *fakeCalendar) Push(_ context.Context, appt model.Appointment, _ model.BookingSetting) (calendar.Result, error) {
	if c.pushErr != nil {
		return calendar.Result{}, c.pushErr
	}
	if c.events == nil {
		c.events = map[string]bool{}
	}
	res := calendar.Result{Success: true}
	if c.conflict {
		res.Conflicts = []calendar.Busy{{Start: appt.StartTime, End: appt.EndTime}}
	}
	if appt.CalendarEventID != "" && c.events[appt.CalendarEventID] {
		c.updates++
		res.EventID = appt.CalendarEventID
		return res, nil
	}
	c.inserts++
	res.EventID = fmt.Sprintf("evt-%d", c.inserts)
	c.events[res.EventID] = true
	return res, nil
}

func (c *fakeCalendar) Delete(_ context.Context, appt model.Appointment, _ model.BookingSetting) (bool, error) {
	c.deleted = append(c.deleted, appt.CalendarEventID)
	existed := c.events[appt.CalendarEventID]
	delete(c.events, appt.CalendarEventID)
	return existed, nil
}

type warnings []string

func (w *warnings) Warn(_ context.Context, _, _, title, _ string) { *w = append(*w, title) }

type fixture struct {
	store *memstore.Store
	svc   *booking.Service
	cal   *fakeCalendar
	warn  *warnings
	obs   *reconcile.Observer
}

func setup(t *testing.T, cal calendar.Syncer) fixture {
	t.Helper()
	clock := func() time.Time { return now }
	store := memstore.New(outbox.DefaultRouter())
	store.Now = clock
	store.PutSettings(model.BookingSetting{OwnerID: owner, Slug: "s", Enabled: true, Timezone: "UTC", MaxDaysAhead: 30})
	store.SetWorkingHours(owner, []model.WorkingHours{{Weekday: time.Monday, Start: "09:00", End: "17:00"}})
	store.PutType(model.AppointmentType{ID: "call", OwnerID: owner, Name: "Call", DurationMinutes: 30, Format: model.FormatOnline, Active: true})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := &warnings{}
	f := fixture{
		store: store,
		svc:   booking.NewService(store, store, store, logger, clock),
		warn:  w,
		obs:   reconcile.NewObserver(store, store, cal, store, w, logger),
	}
	f.cal, _ = cal.(*fakeCalendar)
	return f
}

func (f fixture) book(t *testing.T) model.Appointment {
	t.Helper()
	appt, err := f.svc.Submit(context.Background(), booking.Request{
		OwnerID: owner, TypeID: "call", Start: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		Contact: booking.Contact{Name: "Ada", Email: "Ada@Example.com", Company: "Engines Ltd"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return appt
}

// lastJob returns the newest reconcile job matching typ.
func (f fixture) lastJob(t *testing.T, typ events.Type) outbox.Job {
	t.Helper()
	var job outbox.Job
	for _, j := range f.store.Jobs() {
		if j.Subscriber == outbox.SubscriberReconcile && j.Event.Type == typ {
			job = j
		}
	}
	if job.ID == "" {
		t.Fatalf("no reconcile job for %s", typ)
	}
	return job
}

func TestCreated_IdempotentResync(t *testing.T) {
	f := setup(t, &fakeCalendar{})
	ctx := context.Background()
	appt := f.book(t)
	job := f.lastJob(t, events.AppointmentCreated)

	for i := 0; i < 2; i++ {
		if err := f.obs.Handle(ctx, job); err != nil {
			t.Fatalf("handle #%d: %v", i, err)
		}
	}

	contacts, _ := f.store.ContactsByOwner(ctx, owner)
	if len(contacts) != 1 || contacts[0].Email != "ada@example.com" || contacts[0].Company != "Engines Ltd" {
		t.Fatalf("expected one contact, got %+v", contacts)
	}
	if f.cal.inserts != 1 || f.cal.updates != 1 {
		t.Fatalf("expected one insert then an update, got %d/%d", f.cal.inserts, f.cal.updates)
	}
	stored, _ := f.store.Get(ctx, appt.ID)
	if stored.CalendarEventID != "evt-1" {
		t.Fatalf("calendar event id not stored: %q", stored.CalendarEventID)
	}
	if len(*f.warn) != 0 {
		t.Fatalf("unexpected warnings %v", *f.warn)
	}
}

func TestCancel_DeletesCalendarEventOnce(t *testing.T) {
	f := setup(t, &fakeCalendar{})
	ctx := context.Background()
	appt := f.book(t)
	if err := f.obs.Handle(ctx, f.lastJob(t, events.AppointmentCreated)); err != nil {
		t.Fatalf("handle created: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, owner, appt.ID, "ill"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	job := f.lastJob(t, events.AppointmentUpdated)
	for i := 0; i < 2; i++ {
		if err := f.obs.Handle(ctx, job); err != nil {
			t.Fatalf("handle #%d: %v", i, err)
		}
	}
	if len(f.cal.deleted) != 1 || f.cal.deleted[0] != "evt-1" {
		t.Fatalf("expected exactly one delete of evt-1, got %v", f.cal.deleted)
	}
	stored, _ := f.store.Get(ctx, appt.ID)
	if stored.CalendarEventID != "" {
		t.Fatalf("calendar event id not cleared: %q", stored.CalendarEventID)
	}
}

func TestForceDelete_UsesSnapshot(t *testing.T) {
	f := setup(t, &fakeCalendar{})
	ctx := context.Background()
	appt := f.book(t)
	if err := f.obs.Handle(ctx, f.lastJob(t, events.AppointmentCreated)); err != nil {
		t.Fatalf("handle created: %v", err)
	}
	if err := f.svc.ForceDelete(ctx, owner, appt.ID); err != nil {
		t.Fatalf("force delete: %v", err)
	}
	if _, err := f.store.Get(ctx, appt.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected row gone, got %v", err)
	}
	job := f.lastJob(t, events.AppointmentDeleted)
	if !job.Event.Force {
		t.Fatalf("expected force flag on event")
	}
	if err := f.obs.Handle(ctx, job); err != nil {
		t.Fatalf("handle deleted: %v", err)
	}
	if len(f.cal.deleted) != 1 || f.cal.deleted[0] != "evt-1" {
		t.Fatalf("expected snapshot event removed, got %v", f.cal.deleted)
	}
}

func TestSoftDeleteAndRestore(t *testing.T) {
	f := setup(t, &fakeCalendar{})
	ctx := context.Background()
	appt := f.book(t)
	_ = f.obs.Handle(ctx, f.lastJob(t, events.AppointmentCreated))

	if err := f.svc.Delete(ctx, owner, appt.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.obs.Handle(ctx, f.lastJob(t, events.AppointmentDeleted)); err != nil {
		t.Fatalf("handle deleted: %v", err)
	}
	if _, err := f.svc.Restore(ctx, owner, appt.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := f.obs.Handle(ctx, f.lastJob(t, events.AppointmentRestored)); err != nil {
		t.Fatalf("handle restored: %v", err)
	}
	if len(f.cal.deleted) != 1 || f.cal.inserts != 2 {
		t.Fatalf("expected delete then re-insert, got deleted=%v inserts=%d", f.cal.deleted, f.cal.inserts)
	}
	stored, _ := f.store.Get(ctx, appt.ID)
	if stored.CalendarEventID != "evt-2" {
		t.Fatalf("expected new calendar event id, got %q", stored.CalendarEventID)
	}
}

func TestNotConnectedIsSilent(t *testing.T) {
	f := setup(t, calendar.Noop{})
	ctx := context.Background()
	f.book(t)
	if err := f.obs.Handle(ctx, f.lastJob(t, events.AppointmentCreated)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(*f.warn) != 0 {
		t.Fatalf("expected no warnings, got %v", *f.warn)
	}
	contacts, _ := f.store.ContactsByOwner(ctx, owner)
	if len(contacts) != 1 {
		t.Fatalf("contact sync should not depend on calendar, got %d", len(contacts))
	}
}

func TestPushFailureWarnsOwner(t *testing.T) {
	f := setup(t, &fakeCalendar{pushErr: errors.New("403 insufficient scope")})
	f.book(t)
	if err := f.obs.Handle(context.Background(), f.lastJob(t, events.AppointmentCreated)); err != nil {
		t.Fatalf("external failures must not fail the job, got %v", err)
	}
	if len(*f.warn) != 1 || (*f.warn)[0] != "Failed to sync to calendar" {
		t.Fatalf("expected calendar warning, got %v", *f.warn)
	}
}

func TestCalendarConflictWarnsOwner(t *testing.T) {
	f := setup(t, &fakeCalendar{conflict: true})
	f.book(t)
	if err := f.obs.Handle(context.Background(), f.lastJob(t, events.AppointmentCreated)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(*f.warn) != 1 || (*f.warn)[0] != "Calendar conflict" {
		t.Fatalf("expected conflict warning, got %v", *f.warn)
	}
}
