package storage

import (
	"context"
	"strings"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

// UpsertContact keys contacts by owner and lowercased email. Blank fields on c
// never overwrite stored values.
func (s *Store) UpsertContact(ctx context.Context, c model.Contact) (bool, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (id, owner_id, email, name, phone, company, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (owner_id, email) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), contacts.name),
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), contacts.phone),
			company = COALESCE(NULLIF(EXCLUDED.company, ''), contacts.company),
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0)
	`, c.ID, c.OwnerID, strings.ToLower(strings.TrimSpace(c.Email)), c.Name, c.Phone, c.Company, c.Source, c.CreatedAt, c.UpdatedAt).Scan(&inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *Store) ContactsByOwner(ctx context.Context, ownerID string) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, email, name, phone, company, source, created_at, updated_at
		FROM contacts
		WHERE owner_id = $1
		ORDER BY email
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Email, &c.Name, &c.Phone, &c.Company, &c.Source, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) AddNotification(ctx context.Context, n model.Notification) error {
	if n.ID == "" {
		n.ID = newID()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, owner_id, appointment_id, kind, title, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.OwnerID, n.AppointmentID, n.Kind, n.Title, n.Body, n.CreatedAt)
	return err
}

func (s *Store) NotificationsByOwner(ctx context.Context, ownerID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, appointment_id, kind, title, body, created_at
		FROM notifications
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.AppointmentID, &n.Kind, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
