// Package conflict decides whether a candidate interval collides with an
// existing blocking appointment. The same check runs twice per booking: once
// against the pool when slots are shown, and once inside the commit
// transaction against the locked rows.
package conflict

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

// Querier lists blocking appointments matching q. Both the store and an open
// transaction implement it.
type Querier interface {
	Overlapping(ctx context.Context, q model.OverlapQuery) ([]model.Appointment, error)
}

// First returns the first appointment that conflicts with [start, end) for
// ownerID, or nil. When venueID is set the venue is checked across all owners
// as well. excludeID skips one appointment.
func First(ctx context.Context, q Querier, ownerID, venueID string, start, end time.Time, excludeID string) (*model.Appointment, error) {
	scopes := []model.OverlapQuery{{OwnerID: ownerID, Start: start, End: end, ExcludeID: excludeID}}
	if venueID != "" {
		scopes = append(scopes, model.OverlapQuery{VenueID: venueID, Start: start, End: end, ExcludeID: excludeID})
	}
	for _, scope := range scopes {
		hits, err := q.Overlapping(ctx, scope)
		if err != nil {
			return nil, err
		}
		if len(hits) > 0 {
			return &hits[0], nil
		}
	}
	return nil, nil
}

type Checker struct {
	q Querier
}

func NewChecker(q Querier) *Checker {
	return &Checker{q: q}
}

// IsSlotBooked is the advisory check used while rendering availability.
func (c *Checker) IsSlotBooked(ctx context.Context, ownerID string, start, end time.Time, venueID string) (bool, error) {
	hit, err := First(ctx, c.q, ownerID, venueID, start, end, "")
	if err != nil {
		return false, err
	}
	return hit != nil, nil
}
