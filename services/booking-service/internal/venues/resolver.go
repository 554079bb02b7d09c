package venues

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

type Catalog interface {
	ActiveVenues(ctx context.Context, ownerID string) ([]model.Venue, error)
}

type Resolver struct {
	catalog Catalog
	booked  conflict.Querier
}

func NewResolver(catalog Catalog, booked conflict.Querier) *Resolver {
	return &Resolver{catalog: catalog, booked: booked}
}

// Options is what the venue step offers for one appointment type and slot.
type Options struct {
	Venues      []model.Venue `json:"venues"`
	Preselected string        `json:"preselected,omitempty"`
}

// AvailableVenues returns the owner's active venues that are open for the
// whole of [start, end) and not held by another appointment.
func (r *Resolver) AvailableVenues(ctx context.Context, ownerID string, start, end time.Time, loc *time.Location) ([]model.Venue, error) {
	all, err := r.catalog.ActiveVenues(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Venue, 0, len(all))
	for _, v := range all {
		if !v.Active || !OpenDuring(v, start, end, loc) {
			continue
		}
		hits, err := r.booked.Overlapping(ctx, model.OverlapQuery{VenueID: v.ID, Start: start, End: end})
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			out = append(out, v)
		}
	}
	return out, nil
}

// ForType narrows AvailableVenues by the type's allow-list and preselects its
// default venue when that venue is still on offer.
func (r *Resolver) ForType(ctx context.Context, typ model.AppointmentType, start, end time.Time, loc *time.Location) (Options, error) {
	all, err := r.AvailableVenues(ctx, typ.OwnerID, start, end, loc)
	if err != nil {
		return Options{}, err
	}
	opts := Options{Venues: make([]model.Venue, 0, len(all))}
	for _, v := range all {
		if !typ.AllowsVenue(v.ID) {
			continue
		}
		opts.Venues = append(opts.Venues, v)
		if v.ID == typ.DefaultVenueID {
			opts.Preselected = v.ID
		}
	}
	return opts, nil
}

// OpenDuring checks the venue's optional daily window on the day start falls on.
func OpenDuring(v model.Venue, start, end time.Time, loc *time.Location) bool {
	if v.AvailableFrom == "" && v.AvailableUntil == "" {
		return true
	}
	if loc == nil {
		loc = time.UTC
	}
	day := availability.DateOf(start, loc)
	from, until := availability.Clock{}, availability.Clock{Hour: 24}
	if v.AvailableFrom != "" {
		c, err := availability.ParseClock(v.AvailableFrom)
		if err != nil {
			return false
		}
		from = c
	}
	if v.AvailableUntil != "" {
		c, err := availability.ParseClock(v.AvailableUntil)
		if err != nil {
			return false
		}
		until = c
	}
	open := day.At(from, loc)
	closeAt := day.At(until, loc)
	if until.Hour == 24 {
		closeAt = day.AddDays(1).At(availability.Clock{}, loc)
	}
	return !start.Before(open) && !end.After(closeAt)
}
