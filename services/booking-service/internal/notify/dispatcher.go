// Package notify delivers booking notifications: email to the attendee and
// in-app messages (plus optional email) to the owner.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

const (
	KindNewBooking = "new_booking"
	KindWarning    = "warning"
)

// Inbox stores owner notifications.
type Inbox interface {
	AddNotification(ctx context.Context, n model.Notification) error
}

type Dispatcher struct {
	email   EmailSender
	inbox   Inbox
	logger  *slog.Logger
	baseURL string
	now     func() time.Time
}

// NewDispatcher builds a dispatcher; baseURL is the public site used in
// cancellation links.
func NewDispatcher(email EmailSender, inbox Inbox, logger *slog.Logger, baseURL string) *Dispatcher {
	if email == nil {
		email = NoopSender{}
	}
	return &Dispatcher{email: email, inbox: inbox, logger: logger, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// AppointmentConfirmed emails the attendee. It carries the meeting link when
// one was created and the single-use cancellation link.
func (d *Dispatcher) AppointmentConfirmed(ctx context.Context, appt model.Appointment, settings model.BookingSetting) error {
	if appt.AttendeeEmail == "" {
		return errors.New("appointment has no attendee email")
	}
	loc, err := settings.Location()
	if err != nil {
		loc = time.UTC
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", appt.AttendeeName)
	if appt.Status == model.StatusScheduled {
		fmt.Fprintf(&b, "Your request with %s has been received and is awaiting approval.\n\n", ownerName(settings))
	} else {
		fmt.Fprintf(&b, "Your appointment with %s is confirmed.\n\n", ownerName(settings))
	}
	fmt.Fprintf(&b, "What: %s\n", appt.Title)
	fmt.Fprintf(&b, "When: %s - %s (%s)\n", appt.StartTime.In(loc).Format("Mon Jan 2, 2006 15:04"), appt.EndTime.In(loc).Format("15:04"), loc)
	if appt.MeetingURL != "" {
		fmt.Fprintf(&b, "Join: %s\n", appt.MeetingURL)
		if appt.MeetingPassword != "" {
			fmt.Fprintf(&b, "Passcode: %s\n", appt.MeetingPassword)
		}
	}
	if appt.ConfirmationToken != "" && d.baseURL != "" {
		fmt.Fprintf(&b, "\nNeed to cancel? %s/cancel?token=%s\n", d.baseURL, url.QueryEscape(appt.ConfirmationToken))
	}
	return d.email.Send(ctx, appt.AttendeeEmail, "Appointment: "+appt.Title, b.String())
}

// NewAppointmentBooked tells the owner about a new booking.
func (d *Dispatcher) NewAppointmentBooked(ctx context.Context, appt model.Appointment, settings model.BookingSetting) error {
	title := "New appointment booked"
	if appt.Status == model.StatusScheduled {
		title = "New appointment awaiting approval"
	}
	body := fmt.Sprintf("%s booked %s for %s.", appt.AttendeeName, appt.Title, appt.StartTime.UTC().Format(time.RFC3339))
	err := d.inbox.AddNotification(ctx, d.notification(appt.OwnerID, appt.ID, KindNewBooking, title, body))
	if settings.OwnerEmail != "" {
		err = errors.Join(err, d.email.Send(ctx, settings.OwnerEmail, title, body))
	}
	return err
}

// Warn records a best-effort failure for the owner to look at.
func (d *Dispatcher) Warn(ctx context.Context, ownerID, appointmentID, title, body string) {
	if err := d.inbox.AddNotification(ctx, d.notification(ownerID, appointmentID, KindWarning, title, body)); err != nil {
		d.logger.Error("owner warning not stored", "owner_id", ownerID, "appointment_id", appointmentID, "err", err)
	}
}

func (d *Dispatcher) notification(ownerID, appointmentID, kind, title, body string) model.Notification {
	return model.Notification{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		AppointmentID: appointmentID,
		Kind:          kind,
		Title:         title,
		Body:          body,
		CreatedAt:     d.now().UTC(),
	}
}

func ownerName(s model.BookingSetting) string {
	if s.OwnerName != "" {
		return s.OwnerName
	}
	return "us"
}
