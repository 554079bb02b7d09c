package booking

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

// Store is the appointment persistence the service needs. Reads outside InTx
// are advisory.
type Store interface {
	conflict.Querier
	InTx(ctx context.Context, fn func(Tx) error) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListByOwner(ctx context.Context, ownerID string, from, to time.Time, includeDeleted bool) ([]model.Appointment, error)
}

// Tx is one read-committed transaction. LockSchedule serializes writers on the
// owner's calendar (and the venue's, when set) until commit, which makes the
// Overlapping re-check authoritative. Emit stores an event in the outbox
// alongside the row change.
type Tx interface {
	conflict.Querier
	LockSchedule(ctx context.Context, ownerID, venueID string) error
	Insert(ctx context.Context, appt *model.Appointment) error
	GetForUpdate(ctx context.Context, id string) (model.Appointment, error)
	GetByTokenForUpdate(ctx context.Context, token string) (model.Appointment, error)
	Update(ctx context.Context, appt model.Appointment) error
	HardDelete(ctx context.Context, id string) error
	Emit(ctx context.Context, evt events.Event) error
}

// Catalog is the read-only owner configuration.
type Catalog interface {
	Settings(ctx context.Context, ownerID string) (model.BookingSetting, error)
	AppointmentType(ctx context.Context, ownerID, typeID string) (model.AppointmentType, error)
	Venue(ctx context.Context, ownerID, venueID string) (model.Venue, error)
}
