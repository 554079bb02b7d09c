package booking

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/venues"
)

var tracer = otel.Tracer("booking-service/booking")

type Service struct {
	store     Store
	catalog   Catalog
	schedules availability.ScheduleSource
	checker   *conflict.Checker
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store, catalog Catalog, schedules availability.ScheduleSource, logger *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		catalog:   catalog,
		schedules: schedules,
		checker:   conflict.NewChecker(store),
		logger:    logger,
		now:       now,
	}
}

// Request is a fully collected booking ready to commit.
type Request struct {
	OwnerID string
	TypeID  string
	Start   time.Time
	VenueID string
	Contact Contact
}

// IsSlotBooked is the advisory conflict check used when offering slots.
func (s *Service) IsSlotBooked(ctx context.Context, ownerID string, start, end time.Time, venueID string) (bool, error) {
	return s.checker.IsSlotBooked(ctx, ownerID, start, end, venueID)
}

// Submit validates req, re-checks the slot inside a transaction and inserts
// the appointment together with its Created event. Errors are
// *ValidationError, *ConflictError, ErrBookingDisabled or infrastructure
// failures. Side effects run later from the outbox.
func (s *Service) Submit(ctx context.Context, req Request) (model.Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.submit")
	defer span.End()
	span.SetAttributes(attribute.String("owner_id", req.OwnerID), attribute.String("appointment_type_id", req.TypeID))

	appt, err := s.submit(ctx, req)
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) && !errors.Is(err, ErrSlotUnavailable) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "submit failed")
		}
		return model.Appointment{}, err
	}
	span.SetAttributes(attribute.String("appointment_id", appt.ID))
	return appt, nil
}

func (s *Service) submit(ctx context.Context, req Request) (model.Appointment, error) {
	settings, err := s.catalog.Settings(ctx, req.OwnerID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Appointment{}, ErrBookingDisabled
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if !settings.Enabled {
		return model.Appointment{}, ErrBookingDisabled
	}
	loc, err := settings.Location()
	if err != nil {
		return model.Appointment{}, err
	}

	typ, err := s.catalog.AppointmentType(ctx, req.OwnerID, req.TypeID)
	if errors.Is(err, model.ErrNotFound) || err == nil && !typ.Active {
		return model.Appointment{}, invalid(FieldAppointmentType, "is not bookable")
	}
	if err != nil {
		return model.Appointment{}, err
	}

	contact := req.Contact.Normalize()
	if verr := ValidateContact(contact, typ); verr != nil {
		return model.Appointment{}, verr
	}

	slot := availability.Interval{Start: req.Start, End: req.Start.Add(typ.Duration())}
	venueID, err := s.resolveVenue(ctx, typ, req.VenueID, slot, loc)
	if err != nil {
		return model.Appointment{}, err
	}

	sched, err := s.schedules.Schedule(ctx, req.OwnerID)
	if err != nil {
		return model.Appointment{}, err
	}
	now := s.now()
	if !availability.Fits(sched, slot, now.Add(settings.MinNotice())) {
		return model.Appointment{}, &ConflictError{Start: slot.Start, End: slot.End}
	}

	token, err := newConfirmationToken()
	if err != nil {
		return model.Appointment{}, err
	}
	status := model.StatusConfirmed
	if settings.RequiresApproval {
		status = model.StatusScheduled
	}
	appt := model.Appointment{
		ID:                uuid.NewString(),
		OwnerID:           req.OwnerID,
		AppointmentTypeID: typ.ID,
		VenueID:           venueID,
		Format:            typ.Format,
		Title:             typ.Name + " with " + contact.Name,
		StartTime:         slot.Start.UTC(),
		EndTime:           slot.End.UTC(),
		Timezone:          loc.String(),
		Status:            status,
		AttendeeName:      contact.Name,
		AttendeeEmail:     contact.Email,
		AttendeePhone:     contact.Phone,
		AttendeeCompany:   contact.Company,
		Notes:             contact.Notes,
		ConfirmationToken: token,
		MeetingPlatform:   settings.MeetingPlatform,
		BookedVia:         model.BookedViaPublicPage,
		CreatedAt:         now.UTC(),
		UpdatedAt:         now.UTC(),
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.LockSchedule(ctx, appt.OwnerID, appt.VenueID); err != nil {
			return err
		}
		hit, err := conflict.First(ctx, tx, appt.OwnerID, appt.VenueID, appt.StartTime, appt.EndTime, "")
		if err != nil {
			return err
		}
		if hit != nil {
			return &ConflictError{Start: appt.StartTime, End: appt.EndTime}
		}
		if err := tx.Insert(ctx, &appt); err != nil {
			if errors.Is(err, model.ErrOverlap) {
				return &ConflictError{Start: appt.StartTime, End: appt.EndTime}
			}
			return err
		}
		return tx.Emit(ctx, events.New(events.AppointmentCreated, appt, now))
	})
	if err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			s.logger.Info("booking slot taken at commit", "owner_id", appt.OwnerID, "start_time", appt.StartTime)
		}
		return model.Appointment{}, err
	}

	s.logger.Info("appointment booked", "appointment_id", appt.ID, "owner_id", appt.OwnerID, "status", appt.Status)
	return appt, nil
}

// resolveVenue returns the venue id to store. Formats without a venue step
// never carry one.
func (s *Service) resolveVenue(ctx context.Context, typ model.AppointmentType, venueID string, slot availability.Interval, loc *time.Location) (string, error) {
	if !typ.Format.RequiresVenue() {
		return "", nil
	}
	if venueID == "" {
		if typ.VenueMandatory() {
			return "", invalid(FieldVenue, "is required")
		}
		return "", nil
	}
	if !typ.AllowsVenue(venueID) {
		return "", invalid(FieldVenue, "is not allowed for this appointment type")
	}
	v, err := s.catalog.Venue(ctx, typ.OwnerID, venueID)
	if errors.Is(err, model.ErrNotFound) || err == nil && !v.Active {
		return "", invalid(FieldVenue, "is not available")
	}
	if err != nil {
		return "", err
	}
	if !venues.OpenDuring(v, slot.Start, slot.End, loc) {
		return "", invalid(FieldVenue, "is closed at the selected time")
	}
	return v.ID, nil
}

// newConfirmationToken returns 256 random bits, base64url encoded (43 chars).
func newConfirmationToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
