// Package reconcile keeps CRM contacts and the external calendar consistent
// with appointment lifecycle events. The appointment row is the source of
// truth; external state is best effort.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/outbox"
)

type Store interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	SetCalendarEventID(ctx context.Context, id, eventID string) error
}

// Contacts upserts by (owner, email).
type Contacts interface {
	UpsertContact(ctx context.Context, c model.Contact) (created bool, err error)
}

type Settings interface {
	Settings(ctx context.Context, ownerID string) (model.BookingSetting, error)
}

type Warner interface {
	Warn(ctx context.Context, ownerID, appointmentID, title, body string)
}

type Observer struct {
	store    Store
	contacts Contacts
	calendar calendar.Syncer
	settings Settings
	warner   Warner
	logger   *slog.Logger
	now      func() time.Time
}

func NewObserver(store Store, contacts Contacts, cal calendar.Syncer, settings Settings, warner Warner, logger *slog.Logger) *Observer {
	if cal == nil {
		cal = calendar.Noop{}
	}
	return &Observer{store: store, contacts: contacts, calendar: cal, settings: settings, warner: warner, logger: logger, now: time.Now}
}

// Handle returns an error only when the store itself fails, so the job is
// retried; external sync failures are logged and reported to the owner.
func (o *Observer) Handle(ctx context.Context, job outbox.Job) error {
	evt := job.Event
	log := o.logger.With("appointment_id", evt.AppointmentID, "event_type", evt.Type, "job_id", job.ID)

	if evt.Type == events.AppointmentDeleted && evt.Force {
		o.removeFromCalendar(ctx, log, evt.Snapshot, false)
		return nil
	}

	appt, err := o.store.Get(ctx, evt.AppointmentID)
	if errors.Is(err, model.ErrNotFound) {
		// hard-deleted after this event was written
		o.removeFromCalendar(ctx, log, evt.Snapshot, false)
		return nil
	}
	if err != nil {
		return err
	}

	switch evt.Type {
	case events.AppointmentCreated, events.AppointmentRestored:
		o.syncContact(ctx, log, appt)
		if appt.Blocking() {
			o.pushToCalendar(ctx, log, appt)
		}
	case events.AppointmentUpdated:
		if evt.IdentityChanged() {
			o.syncContact(ctx, log, appt)
		}
		switch {
		case !appt.Blocking():
			if evt.CalendarChanged() {
				o.removeFromCalendar(ctx, log, appt, true)
			}
		case evt.CalendarChanged():
			o.pushToCalendar(ctx, log, appt)
		}
	case events.AppointmentDeleted:
		o.removeFromCalendar(ctx, log, appt, true)
	}
	return nil
}

func (o *Observer) syncContact(ctx context.Context, log *slog.Logger, appt model.Appointment) {
	if appt.AttendeeEmail == "" {
		return
	}
	now := o.now().UTC()
	created, err := o.contacts.UpsertContact(ctx, model.Contact{
		OwnerID:   appt.OwnerID,
		Email:     appt.AttendeeEmail,
		Name:      appt.AttendeeName,
		Phone:     appt.AttendeePhone,
		Company:   appt.AttendeeCompany,
		Source:    appt.BookedVia,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		log.Error("contact sync failed", "err", err)
		return
	}
	log.Debug("contact synced", "created", created)
}

func (o *Observer) pushToCalendar(ctx context.Context, log *slog.Logger, appt model.Appointment) {
	settings, err := o.settings.Settings(ctx, appt.OwnerID)
	if err != nil {
		log.Error("calendar sync skipped, settings unavailable", "err", err)
		return
	}
	res, err := o.calendar.Push(ctx, appt, settings)
	if errors.Is(err, calendar.ErrNotConnected) {
		return
	}
	if err != nil || !res.Success {
		log.Warn("calendar sync failed", "err", err, "message", res.Message)
		o.warner.Warn(ctx, appt.OwnerID, appt.ID, "Failed to sync to calendar", "Appointment "+appt.Title+" could not be added to your calendar.")
		return
	}
	if res.EventID != "" && res.EventID != appt.CalendarEventID {
		if err := o.store.SetCalendarEventID(ctx, appt.ID, res.EventID); err != nil {
			log.Error("calendar event id not stored", "err", err)
		}
	}
	if len(res.Conflicts) > 0 {
		log.Info("calendar reports overlapping events", "conflicts", len(res.Conflicts))
		o.warner.Warn(ctx, appt.OwnerID, appt.ID, "Calendar conflict", "Appointment "+appt.Title+" overlaps other events on your calendar.")
	}
}

// removeFromCalendar deletes the external event and, when the row still
// exists, clears the back-reference so a repeated event is a no-op.
func (o *Observer) removeFromCalendar(ctx context.Context, log *slog.Logger, appt model.Appointment, rowExists bool) {
	if appt.CalendarEventID == "" {
		return
	}
	settings, err := o.settings.Settings(ctx, appt.OwnerID)
	if err != nil {
		log.Error("calendar delete skipped, settings unavailable", "err", err)
		return
	}
	deleted, err := o.calendar.Delete(ctx, appt, settings)
	if errors.Is(err, calendar.ErrNotConnected) {
		return
	}
	if err != nil {
		log.Warn("calendar delete failed", "err", err)
		o.warner.Warn(ctx, appt.OwnerID, appt.ID, "Failed to remove calendar event", "Appointment "+appt.Title+" is still on your calendar.")
		return
	}
	log.Info("calendar event removed", "deleted", deleted)
	if rowExists {
		if err := o.store.SetCalendarEventID(ctx, appt.ID, ""); err != nil {
			log.Error("calendar event id not cleared", "err", err)
		}
	}
}
