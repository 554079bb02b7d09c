// Package events defines the appointment lifecycle events emitted by booking
// operations inside their transaction and consumed by outbox subscribers.
package events

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

type Type string

// Event types double as Kafka topic names.
const (
	AppointmentCreated  Type = "booking.appointment.created.v1"
	AppointmentUpdated  Type = "booking.appointment.updated.v1"
	AppointmentDeleted  Type = "booking.appointment.deleted.v1"
	AppointmentRestored Type = "booking.appointment.restored.v1"
)

// Changed-field names carried on AppointmentUpdated.
const (
	FieldStatus          = "status"
	FieldStartTime       = "start_time"
	FieldEndTime         = "end_time"
	FieldVenue           = "venue_id"
	FieldMeeting         = "meeting"
	FieldAttendeeName    = "attendee_name"
	FieldAttendeeEmail   = "attendee_email"
	FieldAttendeePhone   = "attendee_phone"
	FieldAttendeeCompany = "attendee_company"
)

var (
	identityFields = []string{FieldAttendeeName, FieldAttendeeEmail, FieldAttendeePhone, FieldAttendeeCompany}
	calendarFields = []string{FieldStatus, FieldStartTime, FieldEndTime, FieldVenue, FieldMeeting}
	scheduleFields = []string{FieldStartTime, FieldEndTime}
)

type Event struct {
	ID             string            `json:"id"`
	Type           Type              `json:"type"`
	AppointmentID  string            `json:"appointment_id"`
	OwnerID        string            `json:"owner_id"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Changed        []string          `json:"changed,omitempty"`
	PreviousStatus model.Status      `json:"previous_status,omitempty"`
	Force          bool              `json:"force,omitempty"`
	Snapshot       model.Appointment `json:"snapshot"`
}

func New(t Type, appt model.Appointment, now time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          t,
		AppointmentID: appt.ID,
		OwnerID:       appt.OwnerID,
		OccurredAt:    now.UTC(),
		Snapshot:      appt,
	}
}

// Updated builds an AppointmentUpdated event; prev is the state before the change.
func Updated(prev, next model.Appointment, now time.Time, changed ...string) Event {
	evt := New(AppointmentUpdated, next, now)
	evt.Changed = changed
	evt.PreviousStatus = prev.Status
	return evt
}

func (e Event) ChangedAny(fields ...string) bool {
	for _, f := range fields {
		if slices.Contains(e.Changed, f) {
			return true
		}
	}
	return false
}

// IdentityChanged reports whether attendee contact fields changed.
func (e Event) IdentityChanged() bool { return e.ChangedAny(identityFields...) }

// CalendarChanged reports whether anything mirrored on the external calendar changed.
func (e Event) CalendarChanged() bool { return e.ChangedAny(calendarFields...) }

func (e Event) ScheduleChanged() bool { return e.ChangedAny(scheduleFields...) }

// BecameCancelled reports a transition into cancelled.
func (e Event) BecameCancelled() bool {
	return e.ChangedAny(FieldStatus) && e.Snapshot.Status == model.StatusCancelled && e.PreviousStatus != model.StatusCancelled
}
