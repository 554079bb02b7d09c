package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/venues"
)

func (s *Service) Get(ctx context.Context, ownerID, id string) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) || err == nil && appt.OwnerID != ownerID {
		return model.Appointment{}, ErrNotFound
	}
	return appt, err
}

func (s *Service) List(ctx context.Context, ownerID string, from, to time.Time, includeDeleted bool) ([]model.Appointment, error) {
	return s.store.ListByOwner(ctx, ownerID, from, to, includeDeleted)
}

// mutate loads id for update, checks ownership and applies fn inside one transaction.
func (s *Service) mutate(ctx context.Context, ownerID, id string, fn func(tx Tx, appt model.Appointment, now time.Time) (model.Appointment, error)) (model.Appointment, error) {
	var out model.Appointment
	now := s.now()
	err := s.store.InTx(ctx, func(tx Tx) error {
		appt, err := tx.GetForUpdate(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if ownerID != "" && appt.OwnerID != ownerID {
			return ErrNotFound
		}
		out, err = fn(tx, appt, now)
		return err
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return out, nil
}

func cancel(ctx context.Context, tx Tx, appt model.Appointment, reason string, now time.Time) (model.Appointment, error) {
	if appt.DeletedAt != nil {
		return model.Appointment{}, ErrNotFound
	}
	if appt.Status == model.StatusCancelled {
		return model.Appointment{}, ErrInvalidTransition
	}
	next := appt
	cancelledAt := now.UTC()
	next.Status = model.StatusCancelled
	next.CancelledAt = &cancelledAt
	next.CancelReason = strings.TrimSpace(reason)
	next.ConfirmationToken = ""
	next.UpdatedAt = cancelledAt
	if err := tx.Update(ctx, next); err != nil {
		return model.Appointment{}, err
	}
	return next, tx.Emit(ctx, events.Updated(appt, next, now, events.FieldStatus))
}

// Cancel marks an owner's appointment cancelled; the observer removes the
// calendar event.
func (s *Service) Cancel(ctx context.Context, ownerID, id, reason string) (model.Appointment, error) {
	appt, err := s.mutate(ctx, ownerID, id, func(tx Tx, appt model.Appointment, now time.Time) (model.Appointment, error) {
		return cancel(ctx, tx, appt, reason, now)
	})
	if err == nil {
		s.logger.Info("appointment cancelled", "appointment_id", appt.ID, "owner_id", appt.OwnerID)
	}
	return appt, err
}

// CancelByToken lets the attendee cancel with the emailed token. The token is
// cleared, so it works once.
func (s *Service) CancelByToken(ctx context.Context, token, reason string) (model.Appointment, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Appointment{}, ErrNotFound
	}
	var out model.Appointment
	now := s.now()
	err := s.store.InTx(ctx, func(tx Tx) error {
		appt, err := tx.GetByTokenForUpdate(ctx, token)
		if errors.Is(err, model.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if reason == "" {
			reason = "cancelled by attendee"
		}
		out, err = cancel(ctx, tx, appt, reason, now)
		return err
	})
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment cancelled by attendee", "appointment_id", out.ID, "owner_id", out.OwnerID)
	return out, nil
}

// Approve moves a scheduled appointment to confirmed.
func (s *Service) Approve(ctx context.Context, ownerID, id string) (model.Appointment, error) {
	return s.mutate(ctx, ownerID, id, func(tx Tx, appt model.Appointment, now time.Time) (model.Appointment, error) {
		if appt.DeletedAt != nil {
			return model.Appointment{}, ErrNotFound
		}
		if appt.Status != model.StatusScheduled {
			return model.Appointment{}, ErrInvalidTransition
		}
		next := appt
		next.Status = model.StatusConfirmed
		next.UpdatedAt = now.UTC()
		if err := tx.Update(ctx, next); err != nil {
			return model.Appointment{}, err
		}
		return next, tx.Emit(ctx, events.Updated(appt, next, now, events.FieldStatus))
	})
}

// Reschedule moves an appointment to newStart, keeping its duration. The new
// slot must fit the owner's hours and not collide with anything but itself.
func (s *Service) Reschedule(ctx context.Context, ownerID, id string, newStart time.Time) (model.Appointment, error) {
	current, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return model.Appointment{}, err
	}
	settings, err := s.catalog.Settings(ctx, ownerID)
	if err != nil {
		return model.Appointment{}, err
	}
	sched, err := s.schedules.Schedule(ctx, ownerID)
	if err != nil {
		return model.Appointment{}, err
	}
	slot := availability.Interval{Start: newStart.UTC(), End: newStart.UTC().Add(current.EndTime.Sub(current.StartTime))}
	if !availability.Fits(sched, slot, s.now().Add(settings.MinNotice())) {
		return model.Appointment{}, &ConflictError{Start: slot.Start, End: slot.End}
	}
	if current.VenueID != "" {
		v, err := s.catalog.Venue(ctx, ownerID, current.VenueID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return model.Appointment{}, err
		}
		if err == nil {
			loc, err := settings.Location()
			if err != nil {
				return model.Appointment{}, err
			}
			if !venues.OpenDuring(v, slot.Start, slot.End, loc) {
				return model.Appointment{}, invalid(FieldVenue, "is closed at the selected time")
			}
		}
	}

	return s.mutate(ctx, ownerID, id, func(tx Tx, appt model.Appointment, now time.Time) (model.Appointment, error) {
		if appt.DeletedAt != nil || appt.Status == model.StatusCancelled {
			return model.Appointment{}, ErrInvalidTransition
		}
		if err := s.lockAndCheck(ctx, tx, appt, slot); err != nil {
			return model.Appointment{}, err
		}
		next := appt
		next.StartTime = slot.Start
		next.EndTime = slot.End
		next.UpdatedAt = now.UTC()
		if err := tx.Update(ctx, next); err != nil {
			return model.Appointment{}, asConflict(err, slot)
		}
		return next, tx.Emit(ctx, events.Updated(appt, next, now, events.FieldStartTime, events.FieldEndTime))
	})
}

// Delete soft-deletes; the row keeps its data and can be restored.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	_, err := s.mutate(ctx, ownerID, id, func(tx Tx, appt model.Appointment, now time.Time) (model.Appointment, error) {
		if appt.DeletedAt != nil {
			return model.Appointment{}, ErrNotFound
		}
		next := appt
		deletedAt := now.UTC()
		next.DeletedAt = &deletedAt
		next.UpdatedAt = deletedAt
		if err := tx.Update(ctx, next); err != nil {
			return model.Appointment{}, err
		}
		return next, tx.Emit(ctx, events.New(events.AppointmentDeleted, next, now))
	})
	return err
}

// Restore undoes a soft delete. A non-cancelled appointment only comes back
// if its interval is still free. The meeting room went away with the delete,
// so its details are dropped and side effects provision a new one.
func (s *Service) Restore(ctx context.Context, ownerID, id string) (model.Appointment, error) {
	return s.mutate(ctx, ownerID, id, func(tx Tx, appt model.Appointment, now time.Time) (model.Appointment, error) {
		if appt.DeletedAt == nil {
			return model.Appointment{}, ErrInvalidTransition
		}
		slot := availability.Interval{Start: appt.StartTime, End: appt.EndTime}
		if appt.Status != model.StatusCancelled {
			if err := s.lockAndCheck(ctx, tx, appt, slot); err != nil {
				return model.Appointment{}, err
			}
		}
		next := appt
		next.DeletedAt = nil
		next.UpdatedAt = now.UTC()
		next.MeetingPlatform, next.MeetingURL, next.MeetingID, next.MeetingPassword = "", "", "", ""
		if err := tx.Update(ctx, next); err != nil {
			return model.Appointment{}, asConflict(err, slot)
		}
		return next, tx.Emit(ctx, events.New(events.AppointmentRestored, next, now))
	})
}

// ForceDelete removes the row. The event snapshot is all that remains for
// subscribers.
func (s *Service) ForceDelete(ctx context.Context, ownerID, id string) error {
	_, err := s.mutate(ctx, ownerID, id, func(tx Tx, appt model.Appointment, now time.Time) (model.Appointment, error) {
		if err := tx.HardDelete(ctx, appt.ID); err != nil {
			return model.Appointment{}, err
		}
		evt := events.New(events.AppointmentDeleted, appt, now)
		evt.Force = true
		return appt, tx.Emit(ctx, evt)
	})
	return err
}

// Meeting is what a meeting provider hands back.
type Meeting struct {
	Platform string
	URL      string
	ID       string
	Password string
}

// AttachMeeting records meeting details on the appointment and emits an
// update so the calendar entry picks up the link.
func (s *Service) AttachMeeting(ctx context.Context, id string, m Meeting) (model.Appointment, error) {
	return s.mutate(ctx, "", id, func(tx Tx, appt model.Appointment, now time.Time) (model.Appointment, error) {
		next := appt
		next.MeetingPlatform = m.Platform
		next.MeetingURL = m.URL
		next.MeetingID = m.ID
		next.MeetingPassword = m.Password
		if next.MeetingURL == appt.MeetingURL && next.MeetingID == appt.MeetingID &&
			next.MeetingPassword == appt.MeetingPassword && next.MeetingPlatform == appt.MeetingPlatform {
			return appt, nil
		}
		next.UpdatedAt = now.UTC()
		if err := tx.Update(ctx, next); err != nil {
			return model.Appointment{}, err
		}
		return next, tx.Emit(ctx, events.Updated(appt, next, now, events.FieldMeeting))
	})
}

func (s *Service) lockAndCheck(ctx context.Context, tx Tx, appt model.Appointment, slot availability.Interval) error {
	if err := tx.LockSchedule(ctx, appt.OwnerID, appt.VenueID); err != nil {
		return err
	}
	hit, err := conflict.First(ctx, tx, appt.OwnerID, appt.VenueID, slot.Start, slot.End, appt.ID)
	if err != nil {
		return err
	}
	if hit != nil {
		return &ConflictError{Start: slot.Start, End: slot.End}
	}
	return nil
}

func asConflict(err error, slot availability.Interval) error {
	if errors.Is(err, model.ErrOverlap) {
		return &ConflictError{Start: slot.Start, End: slot.End}
	}
	return err
}
