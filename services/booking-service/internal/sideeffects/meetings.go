package sideeffects

import (
	"context"
	"errors"
	"log/slog"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/meeting"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/outbox"
)

// MeetingSync keeps the meeting room in step with the appointment: moved on
// reschedule, removed on cancel or delete.
type MeetingSync struct {
	appts    Appointments
	settings Settings
	meetings *meeting.Registry
	notifier Notifier
	logger   *slog.Logger
}

func NewMeetingSync(appts Appointments, settings Settings, meetings *meeting.Registry, notifier Notifier, logger *slog.Logger) *MeetingSync {
	return &MeetingSync{appts: appts, settings: settings, meetings: meetings, notifier: notifier, logger: logger}
}

func (m *MeetingSync) Handle(ctx context.Context, job outbox.Job) error {
	evt := job.Event
	if evt.Snapshot.MeetingID == "" {
		return nil
	}
	settings, err := m.settings.Settings(ctx, evt.OwnerID)
	if err != nil {
		return err
	}
	provider := m.meetings.ForAppointment(evt.Snapshot, settings)
	log := m.logger.With("appointment_id", evt.AppointmentID, "job_id", job.ID, "provider", provider.Name())

	switch {
	case evt.Type == events.AppointmentDeleted, evt.Type == events.AppointmentUpdated && evt.BecameCancelled():
		deleted, err := provider.DeleteMeeting(ctx, evt.Snapshot, settings)
		if err != nil {
			return m.failed(ctx, job, log, "Meeting not removed", err)
		}
		log.Info("meeting removed", "deleted", deleted)
	case evt.Type == events.AppointmentUpdated && evt.ScheduleChanged():
		appt, err := m.appts.Get(ctx, evt.AppointmentID)
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !appt.Blocking() {
			return nil
		}
		if err := provider.UpdateMeeting(ctx, appt, settings); err != nil {
			return m.failed(ctx, job, log, "Meeting not rescheduled", err)
		}
		log.Info("meeting rescheduled")
	}
	return nil
}

func (m *MeetingSync) failed(ctx context.Context, job outbox.Job, log *slog.Logger, title string, err error) error {
	log.Warn("meeting sync failed", "attempt", job.Attempts, "err", err)
	if job.FinalAttempt() {
		m.notifier.Warn(ctx, job.Event.OwnerID, job.Event.AppointmentID, title, err.Error())
	}
	return err
}
