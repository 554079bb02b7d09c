package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

const appointmentColumns = `
	id, owner_id, appointment_type_id, COALESCE(venue_id, ''), format, title, start_time, end_time, timezone,
	status, attendee_name, attendee_email, attendee_phone, attendee_company, notes, confirmation_token,
	meeting_platform, meeting_url, meeting_id, meeting_password, calendar_event_id, booked_via,
	cancelled_at, cancel_reason, deleted_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row scanner) (model.Appointment, error) {
	var a model.Appointment
	var token *string
	err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&a.AppointmentTypeID,
		&a.VenueID,
		&a.Format,
		&a.Title,
		&a.StartTime,
		&a.EndTime,
		&a.Timezone,
		&a.Status,
		&a.AttendeeName,
		&a.AttendeeEmail,
		&a.AttendeePhone,
		&a.AttendeeCompany,
		&a.Notes,
		&token,
		&a.MeetingPlatform,
		&a.MeetingURL,
		&a.MeetingID,
		&a.MeetingPassword,
		&a.CalendarEventID,
		&a.BookedVia,
		&a.CancelledAt,
		&a.CancelReason,
		&a.DeletedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, mapErr(err)
	}
	a.ConfirmationToken = derefString(token)
	a.StartTime, a.EndTime = a.StartTime.UTC(), a.EndTime.UTC()
	return a, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func getAppointment(ctx context.Context, q querier, where string, arg any) (model.Appointment, error) {
	return scanAppointment(q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE `+where, arg))
}

// overlapping lists blocking appointments intersecting [q.Start, q.End).
func overlapping(ctx context.Context, db querier, q model.OverlapQuery) ([]model.Appointment, error) {
	rows, err := db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status <> 'cancelled'
			AND deleted_at IS NULL
			AND ($1 = '' OR owner_id = $1)
			AND ($2 = '' OR venue_id = $2)
			AND ($5 = '' OR id <> $5)
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, q.OwnerID, q.VenueID, q.Start, q.End, q.ExcludeID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s *Store) Overlapping(ctx context.Context, q model.OverlapQuery) ([]model.Appointment, error) {
	return overlapping(ctx, s.pool, q)
}

func (s *Store) BookedIntervals(ctx context.Context, ownerID string, from, to time.Time) ([]availability.Interval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE owner_id = $1
			AND status <> 'cancelled'
			AND deleted_at IS NULL
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, availability.Interval{Start: iv.Start.UTC(), End: iv.End.UTC()})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Appointment, error) {
	return getAppointment(ctx, s.pool, `id = $1`, id)
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string, from, to time.Time, includeDeleted bool) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE owner_id = $1
			AND start_time < $3
			AND end_time > $2
			AND ($4 OR deleted_at IS NULL)
		ORDER BY start_time ASC
	`, ownerID, from, to, includeDeleted)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s *Store) SetCalendarEventID(ctx context.Context, id, eventID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments SET calendar_event_id = $2 WHERE id = $1
	`, id, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (t *tx) Overlapping(ctx context.Context, q model.OverlapQuery) ([]model.Appointment, error) {
	return overlapping(ctx, t.tx, q)
}

func (t *tx) Insert(ctx context.Context, a *model.Appointment) error {
	if a.ID == "" {
		a.ID = newID()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, owner_id, appointment_type_id, venue_id, format, title, start_time, end_time, timezone, status,
			 attendee_name, attendee_email, attendee_phone, attendee_company, notes, confirmation_token,
			 meeting_platform, meeting_url, meeting_id, meeting_password, calendar_event_id, booked_via,
			 cancelled_at, cancel_reason, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22,
			$23, $24, $25, $26, $27)
	`, a.ID, a.OwnerID, a.AppointmentTypeID, nullIfEmpty(a.VenueID), a.Format, a.Title, a.StartTime, a.EndTime, a.Timezone, a.Status,
		a.AttendeeName, a.AttendeeEmail, a.AttendeePhone, a.AttendeeCompany, a.Notes, nullIfEmpty(a.ConfirmationToken),
		a.MeetingPlatform, a.MeetingURL, a.MeetingID, a.MeetingPassword, a.CalendarEventID, a.BookedVia,
		a.CancelledAt, a.CancelReason, a.DeletedAt, a.CreatedAt, a.UpdatedAt)
	return mapErr(err)
}

func (t *tx) GetForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	return getAppointment(ctx, t.tx, `id = $1 FOR UPDATE`, id)
}

func (t *tx) GetByTokenForUpdate(ctx context.Context, token string) (model.Appointment, error) {
	if token == "" {
		return model.Appointment{}, model.ErrNotFound
	}
	return getAppointment(ctx, t.tx, `confirmation_token = $1 FOR UPDATE`, token)
}

// Update writes every mutable column of a.
func (t *tx) Update(ctx context.Context, a model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET venue_id = $2,
			start_time = $3,
			end_time = $4,
			status = $5,
			attendee_name = $6,
			attendee_email = $7,
			attendee_phone = $8,
			attendee_company = $9,
			notes = $10,
			confirmation_token = $11,
			meeting_platform = $12,
			meeting_url = $13,
			meeting_id = $14,
			meeting_password = $15,
			calendar_event_id = $16,
			cancelled_at = $17,
			cancel_reason = $18,
			deleted_at = $19,
			updated_at = $20
		WHERE id = $1
	`, a.ID, nullIfEmpty(a.VenueID), a.StartTime, a.EndTime, a.Status,
		a.AttendeeName, a.AttendeeEmail, a.AttendeePhone, a.AttendeeCompany, a.Notes, nullIfEmpty(a.ConfirmationToken),
		a.MeetingPlatform, a.MeetingURL, a.MeetingID, a.MeetingPassword, a.CalendarEventID,
		a.CancelledAt, a.CancelReason, a.DeletedAt, a.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (t *tx) HardDelete(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
