// Package sideeffects runs the slow work that follows a booking: meeting
// rooms and notifications. Nothing here can undo a committed appointment.
package sideeffects

import (
	"context"
	"errors"
	"log/slog"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/meeting"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/outbox"
)

type Appointments interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
}

type Settings interface {
	Settings(ctx context.Context, ownerID string) (model.BookingSetting, error)
}

type MeetingAttacher interface {
	AttachMeeting(ctx context.Context, id string, m booking.Meeting) (model.Appointment, error)
}

type Notifier interface {
	AppointmentConfirmed(ctx context.Context, appt model.Appointment, settings model.BookingSetting) error
	NewAppointmentBooked(ctx context.Context, appt model.Appointment, settings model.BookingSetting) error
	Warn(ctx context.Context, ownerID, appointmentID, title, body string)
}

type Processor struct {
	appts    Appointments
	settings Settings
	meetings *meeting.Registry
	attacher MeetingAttacher
	notifier Notifier
	logger   *slog.Logger
}

func NewProcessor(appts Appointments, settings Settings, meetings *meeting.Registry, attacher MeetingAttacher, notifier Notifier, logger *slog.Logger) *Processor {
	return &Processor{appts: appts, settings: settings, meetings: meetings, attacher: attacher, notifier: notifier, logger: logger}
}

func (p *Processor) Handle(ctx context.Context, job outbox.Job) error {
	switch job.Event.Type {
	case events.AppointmentCreated:
		return p.HandleCreated(ctx, job)
	case events.AppointmentRestored:
		return p.HandleRestored(ctx, job)
	}
	return nil
}

// HandleCreated creates the meeting room first so the confirmation email can
// carry the link. A meeting failure is retried until the last attempt; after
// that the emails go out without a link. Notification failures are logged.
func (p *Processor) HandleCreated(ctx context.Context, job outbox.Job) error {
	log := p.logger.With("appointment_id", job.Event.AppointmentID, "job_id", job.ID)

	appt, settings, ok, err := p.load(ctx, job, log)
	if !ok {
		return err
	}
	appt, err = p.provision(ctx, job, log, appt, settings)
	if err != nil {
		return err
	}

	if err := p.notifier.AppointmentConfirmed(ctx, appt, settings); err != nil {
		log.Error("attendee confirmation not sent", "err", err)
	}
	if err := p.notifier.NewAppointmentBooked(ctx, appt, settings); err != nil {
		log.Error("owner notification not sent", "err", err)
	}
	return nil
}

// HandleRestored provisions a new meeting room for an undeleted appointment.
// The attendee already holds a confirmation, so no email is sent.
func (p *Processor) HandleRestored(ctx context.Context, job outbox.Job) error {
	log := p.logger.With("appointment_id", job.Event.AppointmentID, "job_id", job.ID)

	appt, settings, ok, err := p.load(ctx, job, log)
	if !ok {
		return err
	}
	_, err = p.provision(ctx, job, log, appt, settings)
	return err
}

// load fetches the appointment and owner settings. ok is false when there is
// nothing to do or err is set.
func (p *Processor) load(ctx context.Context, job outbox.Job, log *slog.Logger) (model.Appointment, model.BookingSetting, bool, error) {
	appt, err := p.appts.Get(ctx, job.Event.AppointmentID)
	if errors.Is(err, model.ErrNotFound) {
		log.Info("appointment gone before side effects ran")
		return model.Appointment{}, model.BookingSetting{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, model.BookingSetting{}, false, err
	}
	if !appt.Blocking() {
		log.Info("appointment no longer active, skipping side effects", "status", appt.Status)
		return model.Appointment{}, model.BookingSetting{}, false, nil
	}
	settings, err := p.settings.Settings(ctx, appt.OwnerID)
	if err != nil {
		return model.Appointment{}, model.BookingSetting{}, false, err
	}
	return appt, settings, true, nil
}

// provision creates and attaches a meeting room when the appointment is
// online and has none. A failure is returned until the final attempt, then
// the owner is warned and appt comes back unchanged.
func (p *Processor) provision(ctx context.Context, job outbox.Job, log *slog.Logger, appt model.Appointment, settings model.BookingSetting) (model.Appointment, error) {
	if appt.Format == model.FormatInPerson || appt.MeetingURL != "" {
		return appt, nil
	}
	provider := p.meetings.For(settings)
	if provider.Name() == model.MeetingPlatformNone {
		return appt, nil
	}
	details, err := provider.CreateMeeting(ctx, appt, settings)
	if err != nil {
		log.Warn("meeting creation failed", "provider", provider.Name(), "attempt", job.Attempts, "err", err)
		if !job.FinalAttempt() {
			return appt, err
		}
		p.notifier.Warn(ctx, appt.OwnerID, appt.ID, "Meeting link not created",
			"We could not create a "+provider.Name()+" meeting for "+appt.Title+". Please send the attendee a link manually.")
		return appt, nil
	}
	updated, err := p.attacher.AttachMeeting(ctx, appt.ID, booking.Meeting{
		Platform: provider.Name(),
		URL:      details.URL,
		ID:       details.ID,
		Password: details.Password,
	})
	if err != nil {
		return appt, err
	}
	log.Info("meeting created", "provider", provider.Name())
	return updated, nil
}
