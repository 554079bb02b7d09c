package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

const settingsColumns = `owner_id, owner_name, owner_email, slug, enabled, timezone, min_notice_hours, max_days_ahead,
	requires_approval, meeting_platform, external_calendar_id`

func scanSettings(row scanner) (model.BookingSetting, error) {
	var s model.BookingSetting
	err := row.Scan(&s.OwnerID, &s.OwnerName, &s.OwnerEmail, &s.Slug, &s.Enabled, &s.Timezone, &s.MinNoticeHours,
		&s.MaxDaysAhead, &s.RequiresApproval, &s.MeetingPlatform, &s.ExternalCalendarID)
	return s, mapErr(err)
}

func (s *Store) Settings(ctx context.Context, ownerID string) (model.BookingSetting, error) {
	return scanSettings(s.pool.QueryRow(ctx, `SELECT `+settingsColumns+` FROM booking_settings WHERE owner_id = $1`, ownerID))
}

func (s *Store) SettingsBySlug(ctx context.Context, slug string) (model.BookingSetting, error) {
	return scanSettings(s.pool.QueryRow(ctx, `SELECT `+settingsColumns+` FROM booking_settings WHERE lower(slug) = lower($1)`, slug))
}

// SaveSettings upserts the owner's booking page configuration.
func (s *Store) SaveSettings(ctx context.Context, v model.BookingSetting) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO booking_settings (`+settingsColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (owner_id) DO UPDATE
		SET owner_name = EXCLUDED.owner_name,
			owner_email = EXCLUDED.owner_email,
			slug = EXCLUDED.slug,
			enabled = EXCLUDED.enabled,
			timezone = EXCLUDED.timezone,
			min_notice_hours = EXCLUDED.min_notice_hours,
			max_days_ahead = EXCLUDED.max_days_ahead,
			requires_approval = EXCLUDED.requires_approval,
			meeting_platform = EXCLUDED.meeting_platform,
			external_calendar_id = EXCLUDED.external_calendar_id,
			updated_at = now()
	`, v.OwnerID, v.OwnerName, v.OwnerEmail, v.Slug, v.Enabled, v.Timezone, v.MinNoticeHours, v.MaxDaysAhead,
		v.RequiresApproval, v.MeetingPlatform, v.ExternalCalendarID)
	if IsUniqueViolation(err) {
		return model.ErrSlugTaken
	}
	return err
}

const typeColumns = `id, owner_id, name, description, duration_minutes, format, require_phone, require_company,
	requires_location, allowed_venue_ids, default_venue_id, active, sort_order`

func scanType(row scanner) (model.AppointmentType, error) {
	var t model.AppointmentType
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Description, &t.DurationMinutes, &t.Format, &t.RequirePhone,
		&t.RequireCompany, &t.RequiresLocation, &t.AllowedVenueIDs, &t.DefaultVenueID, &t.Active, &t.SortOrder)
	return t, mapErr(err)
}

func (s *Store) AppointmentType(ctx context.Context, ownerID, typeID string) (model.AppointmentType, error) {
	return scanType(s.pool.QueryRow(ctx, `SELECT `+typeColumns+` FROM appointment_types WHERE id = $1 AND owner_id = $2`, typeID, ownerID))
}

func (s *Store) ActiveAppointmentTypes(ctx context.Context, ownerID string) ([]model.AppointmentType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+typeColumns+`
		FROM appointment_types
		WHERE owner_id = $1 AND active
		ORDER BY sort_order, name
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AppointmentType
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveAppointmentType inserts t, or replaces it when t.ID already exists for the owner.
func (s *Store) SaveAppointmentType(ctx context.Context, t model.AppointmentType) (model.AppointmentType, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.AllowedVenueIDs == nil {
		t.AllowedVenueIDs = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO appointment_types (`+typeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			description = EXCLUDED.description,
			duration_minutes = EXCLUDED.duration_minutes,
			format = EXCLUDED.format,
			require_phone = EXCLUDED.require_phone,
			require_company = EXCLUDED.require_company,
			requires_location = EXCLUDED.requires_location,
			allowed_venue_ids = EXCLUDED.allowed_venue_ids,
			default_venue_id = EXCLUDED.default_venue_id,
			active = EXCLUDED.active,
			sort_order = EXCLUDED.sort_order
		WHERE appointment_types.owner_id = EXCLUDED.owner_id
	`, t.ID, t.OwnerID, t.Name, t.Description, t.DurationMinutes, t.Format, t.RequirePhone, t.RequireCompany,
		t.RequiresLocation, t.AllowedVenueIDs, t.DefaultVenueID, t.Active, t.SortOrder)
	if err != nil {
		return model.AppointmentType{}, err
	}
	if tag.RowsAffected() == 0 {
		return model.AppointmentType{}, model.ErrNotFound
	}
	return t, nil
}

const venueColumns = `id, owner_id, name, address, capacity, active, available_from, available_until`

func scanVenue(row scanner) (model.Venue, error) {
	var v model.Venue
	err := row.Scan(&v.ID, &v.OwnerID, &v.Name, &v.Address, &v.Capacity, &v.Active, &v.AvailableFrom, &v.AvailableUntil)
	return v, mapErr(err)
}

func (s *Store) Venue(ctx context.Context, ownerID, venueID string) (model.Venue, error) {
	return scanVenue(s.pool.QueryRow(ctx, `SELECT `+venueColumns+` FROM venues WHERE id = $1 AND owner_id = $2`, venueID, ownerID))
}

func (s *Store) ActiveVenues(ctx context.Context, ownerID string) ([]model.Venue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+venueColumns+`
		FROM venues
		WHERE owner_id = $1 AND active
		ORDER BY name
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Venue
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) SaveVenue(ctx context.Context, v model.Venue) (model.Venue, error) {
	if v.ID == "" {
		v.ID = newID()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO venues (`+venueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			address = EXCLUDED.address,
			capacity = EXCLUDED.capacity,
			active = EXCLUDED.active,
			available_from = EXCLUDED.available_from,
			available_until = EXCLUDED.available_until
		WHERE venues.owner_id = EXCLUDED.owner_id
	`, v.ID, v.OwnerID, v.Name, v.Address, v.Capacity, v.Active, v.AvailableFrom, v.AvailableUntil)
	if err != nil {
		return model.Venue{}, err
	}
	if tag.RowsAffected() == 0 {
		return model.Venue{}, model.ErrNotFound
	}
	return v, nil
}

// ReplaceWorkingHours swaps the owner's weekly windows in one transaction.
func (s *Store) ReplaceWorkingHours(ctx context.Context, ownerID string, hours []model.WorkingHours) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM working_hours WHERE owner_id = $1`, ownerID); err != nil {
			return err
		}
		for _, h := range hours {
			if _, err := tx.Exec(ctx, `
				INSERT INTO working_hours (owner_id, weekday, start_time, end_time) VALUES ($1, $2, $3, $4)
			`, ownerID, int(h.Weekday), h.Start, h.End); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) AddBlockedTime(ctx context.Context, ownerID string, b model.BlockedTime) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blocked_times (owner_id, start_time, end_time, reason) VALUES ($1, $2, $3, $4)
	`, ownerID, b.Start, b.End, b.Reason)
	return err
}

// Schedule assembles the owner's weekly windows and the blocked times that
// have not yet ended.
func (s *Store) Schedule(ctx context.Context, ownerID string) (availability.Schedule, error) {
	settings, err := s.Settings(ctx, ownerID)
	if err != nil {
		return availability.Schedule{}, err
	}
	loc, err := settings.Location()
	if err != nil {
		return availability.Schedule{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT weekday, start_time, end_time FROM working_hours WHERE owner_id = $1 ORDER BY weekday, start_time
	`, ownerID)
	if err != nil {
		return availability.Schedule{}, err
	}
	var hours []model.WorkingHours
	for rows.Next() {
		var h model.WorkingHours
		var weekday int
		if err := rows.Scan(&weekday, &h.Start, &h.End); err != nil {
			rows.Close()
			return availability.Schedule{}, err
		}
		h.Weekday = time.Weekday(weekday)
		hours = append(hours, h)
	}
	rows.Close()
	if rows.Err() != nil {
		return availability.Schedule{}, rows.Err()
	}

	rows, err = s.pool.Query(ctx, `
		SELECT start_time, end_time, reason FROM blocked_times WHERE owner_id = $1 AND end_time > now() ORDER BY start_time
	`, ownerID)
	if err != nil {
		return availability.Schedule{}, err
	}
	defer rows.Close()
	var blocked []model.BlockedTime
	for rows.Next() {
		var b model.BlockedTime
		if err := rows.Scan(&b.Start, &b.End, &b.Reason); err != nil {
			return availability.Schedule{}, err
		}
		blocked = append(blocked, b)
	}
	if rows.Err() != nil {
		return availability.Schedule{}, rows.Err()
	}
	return availability.NewSchedule(loc, hours, blocked)
}
