package memstore

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

func contactKey(ownerID, email string) string {
	return ownerID + "|" + strings.ToLower(strings.TrimSpace(email))
}

// UpsertContact matches by owner and email; blank fields never overwrite.
func (s *Store) UpsertContact(_ context.Context, c model.Contact) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := contactKey(c.OwnerID, c.Email)
	existing, ok := s.contacts[key]
	if !ok {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.Email = strings.ToLower(strings.TrimSpace(c.Email))
		s.contacts[key] = c
		return true, nil
	}
	if c.Name != "" {
		existing.Name = c.Name
	}
	if c.Phone != "" {
		existing.Phone = c.Phone
	}
	if c.Company != "" {
		existing.Company = c.Company
	}
	existing.UpdatedAt = c.UpdatedAt
	s.contacts[key] = existing
	return false, nil
}

func (s *Store) ContactsByOwner(_ context.Context, ownerID string) ([]model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Contact
	for _, c := range s.contacts {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *Store) AddNotification(_ context.Context, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *Store) NotificationsByOwner(_ context.Context, ownerID string, limit int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Notification
	for i := len(s.notifications) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.notifications[i].OwnerID == ownerID {
			out = append(out, s.notifications[i])
		}
	}
	return out, nil
}
