package model

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrOverlap is returned by stores when an insert or update would violate
	// the no-overlap constraint for an owner or venue.
	ErrOverlap = errors.New("appointment interval overlaps an existing booking")
	// ErrSlugTaken means another owner already uses the booking page slug.
	ErrSlugTaken = errors.New("booking page slug already in use")
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

type Format string

const (
	FormatOnline   Format = "online"
	FormatInPerson Format = "in_person"
	FormatHybrid   Format = "hybrid"
)

// RequiresVenue reports whether bookings of this format go through venue selection.
func (f Format) RequiresVenue() bool {
	return f == FormatInPerson || f == FormatHybrid
}

func (f Format) Valid() bool {
	switch f {
	case FormatOnline, FormatInPerson, FormatHybrid:
		return true
	}
	return false
}

const BookedViaPublicPage = "public_booking_page"

type Appointment struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	AppointmentTypeID string     `json:"appointment_type_id"`
	VenueID           string     `json:"venue_id,omitempty"`
	Format            Format     `json:"format"`
	Title             string     `json:"title"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           time.Time  `json:"end_time"`
	Timezone          string     `json:"timezone"`
	Status            Status     `json:"status"`
	AttendeeName      string     `json:"attendee_name"`
	AttendeeEmail     string     `json:"attendee_email"`
	AttendeePhone     string     `json:"attendee_phone,omitempty"`
	AttendeeCompany   string     `json:"attendee_company,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	ConfirmationToken string     `json:"-"`
	MeetingPlatform   string     `json:"meeting_platform,omitempty"`
	MeetingURL        string     `json:"meeting_url,omitempty"`
	MeetingID         string     `json:"meeting_id,omitempty"`
	MeetingPassword   string     `json:"-"`
	CalendarEventID   string     `json:"calendar_event_id,omitempty"`
	BookedVia         string     `json:"booked_via"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	CancelReason      string     `json:"cancel_reason,omitempty"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Blocking reports whether the appointment occupies its interval.
func (a Appointment) Blocking() bool {
	return a.Status != StatusCancelled && a.DeletedAt == nil
}

// Overlaps uses half-open intervals: [s1,e1) and [s2,e2) overlap iff s1 < e2 && s2 < e1.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}

// OverlapQuery selects blocking appointments intersecting [Start, End).
// A blank OwnerID matches every owner (venue-wide checks); a blank VenueID
// matches every venue. ExcludeID skips one appointment (reschedules).
type OverlapQuery struct {
	OwnerID   string
	VenueID   string
	Start     time.Time
	End       time.Time
	ExcludeID string
}

func (q OverlapQuery) Matches(a Appointment) bool {
	if !a.Blocking() || a.ID == q.ExcludeID && q.ExcludeID != "" {
		return false
	}
	if q.OwnerID != "" && a.OwnerID != q.OwnerID {
		return false
	}
	if q.VenueID != "" && a.VenueID != q.VenueID {
		return false
	}
	return a.Overlaps(q.Start, q.End)
}
