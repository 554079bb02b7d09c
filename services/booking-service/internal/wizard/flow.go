package wizard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/venues"
)

var (
	ErrPageNotFound    = errors.New("booking page not found")
	ErrSessionNotFound = errors.New("booking session not found")
	ErrDateOutOfRange  = errors.New("date outside the bookable range")
)

type SessionStore interface {
	Get(ctx context.Context, id string) (State, error)
	Save(ctx context.Context, st State) error
	Delete(ctx context.Context, id string) error
}

type Catalog interface {
	SettingsBySlug(ctx context.Context, slug string) (model.BookingSetting, error)
	AppointmentType(ctx context.Context, ownerID, typeID string) (model.AppointmentType, error)
	ActiveAppointmentTypes(ctx context.Context, ownerID string) ([]model.AppointmentType, error)
}

type Submitter interface {
	Submit(ctx context.Context, req booking.Request) (model.Appointment, error)
}

// Flow drives State for the public booking pages of one slug at a time.
type Flow struct {
	sessions     SessionStore
	catalog      Catalog
	availability *availability.Service
	venues       *venues.Resolver
	booking      Submitter
	logger       *slog.Logger
	now          func() time.Time
}

func NewFlow(sessions SessionStore, catalog Catalog, avail *availability.Service, resolver *venues.Resolver, submitter Submitter, logger *slog.Logger, now func() time.Time) *Flow {
	if now == nil {
		now = time.Now
	}
	return &Flow{sessions: sessions, catalog: catalog, availability: avail, venues: resolver, booking: submitter, logger: logger, now: now}
}

// Page is the public summary of a booking page.
type Page struct {
	Settings model.BookingSetting    `json:"settings"`
	Types    []model.AppointmentType `json:"appointment_types"`
}

// Page resolves slug; unknown or disabled pages are ErrPageNotFound.
func (f *Flow) Page(ctx context.Context, slug string) (Page, error) {
	settings, err := f.settings(ctx, slug)
	if err != nil {
		return Page{}, err
	}
	types, err := f.catalog.ActiveAppointmentTypes(ctx, settings.OwnerID)
	if err != nil {
		return Page{}, err
	}
	return Page{Settings: settings, Types: types}, nil
}

func (f *Flow) settings(ctx context.Context, slug string) (model.BookingSetting, error) {
	settings, err := f.catalog.SettingsBySlug(ctx, slug)
	if errors.Is(err, model.ErrNotFound) || err == nil && !settings.Enabled {
		return model.BookingSetting{}, ErrPageNotFound
	}
	return settings, err
}

// Dates lists bookable days within the owner's horizon.
func (f *Flow) Dates(ctx context.Context, slug string) ([]availability.Date, error) {
	settings, err := f.settings(ctx, slug)
	if err != nil {
		return nil, err
	}
	return f.availability.AvailableDates(ctx, settings.OwnerID, settings.MaxDaysAhead, settings.MinNoticeHours)
}

func (f *Flow) Start(ctx context.Context, slug string) (State, error) {
	settings, err := f.settings(ctx, slug)
	if err != nil {
		return State{}, err
	}
	st := State{ID: uuid.NewString(), OwnerID: settings.OwnerID, Slug: settings.Slug, Step: StepSelectType, UpdatedAt: f.now().UTC()}
	if err := f.sessions.Save(ctx, st); err != nil {
		return State{}, err
	}
	return st, nil
}

func (f *Flow) Session(ctx context.Context, slug, id string) (State, error) {
	_, st, err := f.load(ctx, slug, id)
	return st, err
}

func (f *Flow) load(ctx context.Context, slug, id string) (model.BookingSetting, State, error) {
	settings, err := f.settings(ctx, slug)
	if err != nil {
		return model.BookingSetting{}, State{}, err
	}
	st, err := f.sessions.Get(ctx, id)
	if err != nil {
		return model.BookingSetting{}, State{}, err
	}
	if st.OwnerID != settings.OwnerID {
		return model.BookingSetting{}, State{}, ErrSessionNotFound
	}
	return settings, st, nil
}

// step loads the session, applies fn and saves the result when fn succeeds.
func (f *Flow) step(ctx context.Context, slug, id string, fn func(settings model.BookingSetting, st *State) error) (State, error) {
	settings, st, err := f.load(ctx, slug, id)
	if err != nil {
		return State{}, err
	}
	if err := fn(settings, &st); err != nil {
		return st, err
	}
	st.UpdatedAt = f.now().UTC()
	return st, f.sessions.Save(ctx, st)
}

func (f *Flow) SelectType(ctx context.Context, slug, id, typeID string) (State, error) {
	return f.step(ctx, slug, id, func(settings model.BookingSetting, st *State) error {
		typ, err := f.catalog.AppointmentType(ctx, settings.OwnerID, typeID)
		if errors.Is(err, model.ErrNotFound) || err == nil && !typ.Active {
			return &booking.ValidationError{Fields: map[string]string{booking.FieldAppointmentType: "is not bookable"}}
		}
		if err != nil {
			return err
		}
		return st.SelectType(typ)
	})
}

func (f *Flow) SelectDate(ctx context.Context, slug, id string, day availability.Date) (State, error) {
	return f.step(ctx, slug, id, func(settings model.BookingSetting, st *State) error {
		if err := st.expect(StepSelectDateTime); err != nil {
			return err
		}
		loc, err := settings.Location()
		if err != nil {
			return err
		}
		today := availability.DateOf(f.now(), loc)
		if day.Before(today) || today.AddDays(settings.MaxDaysAhead).Before(day) {
			return ErrDateOutOfRange
		}
		slots, err := f.slots(ctx, settings, st.OwnerID, st.TypeID, day)
		if err != nil {
			return err
		}
		return st.SelectDate(day, slots)
	})
}

func (f *Flow) slots(ctx context.Context, settings model.BookingSetting, ownerID, typeID string, day availability.Date) ([]availability.Interval, error) {
	typ, err := f.catalog.AppointmentType(ctx, ownerID, typeID)
	if err != nil {
		return nil, err
	}
	return f.availability.AvailableSlots(ctx, ownerID, day, typ.DurationMinutes, settings.MinNoticeHours)
}

func (f *Flow) SelectTime(ctx context.Context, slug, id string, start time.Time) (State, error) {
	return f.step(ctx, slug, id, func(settings model.BookingSetting, st *State) error {
		if err := st.SelectTime(start); err != nil {
			return err
		}
		if st.Step == StepSelectVenue {
			return f.offerVenues(ctx, settings, st)
		}
		return nil
	})
}

func (f *Flow) offerVenues(ctx context.Context, settings model.BookingSetting, st *State) error {
	typ, err := f.catalog.AppointmentType(ctx, st.OwnerID, st.TypeID)
	if err != nil {
		return err
	}
	loc, err := settings.Location()
	if err != nil {
		return err
	}
	opts, err := f.venues.ForType(ctx, typ, st.Start, st.End, loc)
	if err != nil {
		return err
	}
	st.OfferVenues(opts)
	return nil
}

func (f *Flow) SelectVenue(ctx context.Context, slug, id, venueID string) (State, error) {
	return f.step(ctx, slug, id, func(_ model.BookingSetting, st *State) error {
		return st.SelectVenue(venueID)
	})
}

func (f *Flow) Back(ctx context.Context, slug, id string) (State, error) {
	return f.step(ctx, slug, id, func(_ model.BookingSetting, st *State) error {
		return st.Back()
	})
}

// Submit commits the booking. Validation and conflict failures are returned
// together with the state they routed the session to, which is saved. A
// confirmed session is discarded.
func (f *Flow) Submit(ctx context.Context, slug, id string, c booking.Contact) (State, error) {
	settings, st, err := f.load(ctx, slug, id)
	if err != nil {
		return State{}, err
	}
	if err := st.SetContact(c); err != nil {
		return st, err
	}

	appt, err := f.booking.Submit(ctx, st.Request())
	if err != nil {
		var verr *booking.ValidationError
		switch {
		case errors.As(err, &verr) && verr.VenueMissing():
			st.RouteVenueMissing(verr.Fields)
			if oerr := f.offerVenues(ctx, settings, &st); oerr != nil {
				return st, oerr
			}
		case errors.As(err, &verr):
			st.Errors = verr.Fields
		case errors.Is(err, booking.ErrSlotUnavailable):
			st.RouteConflict()
			slots, serr := f.slots(ctx, settings, st.OwnerID, st.TypeID, st.Date)
			if serr != nil {
				return st, serr
			}
			st.Slots = slots
		default:
			return st, err
		}
		st.UpdatedAt = f.now().UTC()
		if serr := f.sessions.Save(ctx, st); serr != nil {
			return st, serr
		}
		return st, err
	}

	if err := st.Confirm(appt); err != nil {
		return st, err
	}
	if err := f.sessions.Delete(ctx, st.ID); err != nil {
		f.logger.Warn("booking session not discarded", "session_id", st.ID, "err", err)
	}
	return st, nil
}
