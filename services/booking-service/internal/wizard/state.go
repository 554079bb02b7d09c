// Package wizard is the public booking state machine:
//
//	SelectType -> SelectDateTime -> [SelectVenue] -> ContactInfo -> Confirmed
//
// The venue step is entered only for formats that take place somewhere.
// Back inverts the forward rule exactly. Abandoned sessions simply expire.
package wizard

import (
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/venues"
)

var (
	ErrInvalidStep  = errors.New("action not allowed at this step")
	ErrUnknownSlot  = errors.New("time is not one of the offered slots")
	ErrUnknownVenue = errors.New("venue is not one of the offered venues")
)

type Step int

const (
	StepSelectType Step = iota
	StepSelectDateTime
	StepSelectVenue
	StepContactInfo
	StepConfirmed
)

var stepNames = [...]string{"select_type", "select_date_time", "select_venue", "contact_info", "confirmed"}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

func (s Step) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Step) UnmarshalText(b []byte) error {
	for i, name := range stepNames {
		if name == string(b) {
			*s = Step(i)
			return nil
		}
	}
	return fmt.Errorf("unknown step %q", b)
}

// State is one visitor's in-flight booking.
type State struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Slug    string `json:"slug"`
	Step    Step   `json:"step"`

	TypeID        string       `json:"type_id,omitempty"`
	Format        model.Format `json:"format,omitempty"`
	VenueRequired bool         `json:"venue_required,omitempty"`

	Date  availability.Date       `json:"date"`
	Slots []availability.Interval `json:"slots,omitempty"`
	Start time.Time               `json:"start,omitzero"`
	End   time.Time               `json:"end,omitzero"`

	VenueStepEntered bool          `json:"venue_step_entered,omitempty"`
	Venues           []model.Venue `json:"venues,omitempty"`
	VenueID          string        `json:"venue_id,omitempty"`

	Contact booking.Contact `json:"contact"`

	AppointmentID     string `json:"appointment_id,omitempty"`
	ConfirmationToken string `json:"confirmation_token,omitempty"`

	Errors    map[string]string `json:"errors,omitempty"`
	Notice    string            `json:"notice,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (s *State) expect(steps ...Step) error {
	for _, st := range steps {
		if s.Step == st {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidStep, s.Step)
}

func (s *State) clearFeedback() {
	s.Errors = nil
	s.Notice = ""
}

func (s *State) clearTime() {
	s.Start, s.End = time.Time{}, time.Time{}
}

func (s *State) clearVenue() {
	s.VenueStepEntered = false
	s.Venues = nil
	s.VenueID = ""
}

// clearDateTime resets everything chosen on the date/time step.
func (s *State) clearDateTime() {
	s.Date = availability.Date{}
	s.Slots = nil
	s.clearTime()
}

func (s *State) SelectType(typ model.AppointmentType) error {
	if err := s.expect(StepSelectType); err != nil {
		return err
	}
	s.clearFeedback()
	s.TypeID = typ.ID
	s.Format = typ.Format
	s.VenueRequired = typ.VenueMandatory()
	s.Step = StepSelectDateTime
	return nil
}

// SelectDate records the day and the freshly fetched slots for it.
func (s *State) SelectDate(d availability.Date, slots []availability.Interval) error {
	if err := s.expect(StepSelectDateTime); err != nil {
		return err
	}
	s.clearFeedback()
	s.Date = d
	s.Slots = slots
	s.clearTime()
	return nil
}

// SelectTime picks one of the offered slots and advances to the venue step
// when the format needs one, otherwise straight to contact info.
func (s *State) SelectTime(start time.Time) error {
	if err := s.expect(StepSelectDateTime); err != nil {
		return err
	}
	var picked *availability.Interval
	for i := range s.Slots {
		if s.Slots[i].Start.Equal(start) {
			picked = &s.Slots[i]
			break
		}
	}
	if picked == nil {
		return ErrUnknownSlot
	}
	s.clearFeedback()
	s.Start, s.End = picked.Start, picked.End
	if s.Format.RequiresVenue() {
		s.Step = StepSelectVenue
		s.VenueStepEntered = true
		return nil
	}
	s.Step = StepContactInfo
	return nil
}

// OfferVenues stores the venues shown on the venue step and applies the preselection.
func (s *State) OfferVenues(opts venues.Options) {
	s.Venues = opts.Venues
	if s.VenueID == "" || !s.offers(s.VenueID) {
		s.VenueID = opts.Preselected
	}
}

func (s *State) offers(venueID string) bool {
	for _, v := range s.Venues {
		if v.ID == venueID {
			return true
		}
	}
	return false
}

// SelectVenue accepts an offered venue, or none when the venue is optional.
func (s *State) SelectVenue(venueID string) error {
	if err := s.expect(StepSelectVenue); err != nil {
		return err
	}
	if venueID == "" && s.VenueRequired || venueID != "" && !s.offers(venueID) {
		return ErrUnknownVenue
	}
	s.clearFeedback()
	s.VenueID = venueID
	s.Step = StepContactInfo
	return nil
}

// Back steps to the previous screen. Returning to date/time clears the date,
// time and slots so availability is fetched again.
func (s *State) Back() error {
	s.clearFeedback()
	switch s.Step {
	case StepContactInfo:
		if s.VenueStepEntered {
			s.Step = StepSelectVenue
			return nil
		}
		s.clearDateTime()
		s.Step = StepSelectDateTime
	case StepSelectVenue:
		s.clearVenue()
		s.clearDateTime()
		s.Step = StepSelectDateTime
	case StepSelectDateTime:
		s.clearDateTime()
		s.TypeID, s.Format, s.VenueRequired = "", "", false
		s.Step = StepSelectType
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStep, s.Step)
	}
	return nil
}

func (s *State) SetContact(c booking.Contact) error {
	if err := s.expect(StepContactInfo); err != nil {
		return err
	}
	s.Contact = c
	return nil
}

// RouteConflict sends the visitor back to pick another time on the same day.
// The caller refills Slots.
func (s *State) RouteConflict() {
	s.clearVenue()
	s.clearTime()
	s.Slots = nil
	s.Errors = nil
	s.Notice = "That time is no longer available, please pick another."
	s.Step = StepSelectDateTime
}

// RouteVenueMissing sends the visitor back to the venue step with field errors.
func (s *State) RouteVenueMissing(fields map[string]string) {
	s.Notice = ""
	s.Errors = fields
	s.VenueStepEntered = true
	s.Step = StepSelectVenue
}

// Request builds the commit request from the collected selections.
func (s *State) Request() booking.Request {
	return booking.Request{
		OwnerID: s.OwnerID,
		TypeID:  s.TypeID,
		Start:   s.Start,
		VenueID: s.VenueID,
		Contact: s.Contact,
	}
}

func (s *State) Confirm(appt model.Appointment) error {
	if err := s.expect(StepContactInfo); err != nil {
		return err
	}
	s.clearFeedback()
	s.AppointmentID = appt.ID
	s.ConfirmationToken = appt.ConfirmationToken
	s.Step = StepConfirmed
	return nil
}
