// Package calendar mirrors appointments onto the owner's external calendar.
package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

// ErrNotConnected means the owner has no external calendar; callers skip quietly.
var ErrNotConnected = errors.New("calendar not connected")

type Busy struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Result struct {
	Success   bool
	EventID   string
	Message   string
	Conflicts []Busy
}

type Syncer interface {
	// Push creates the event, or updates it when appt.CalendarEventID is set.
	Push(ctx context.Context, appt model.Appointment, settings model.BookingSetting) (Result, error)
	// Delete removes appt.CalendarEventID; false when there was nothing to remove.
	Delete(ctx context.Context, appt model.Appointment, settings model.BookingSetting) (bool, error)
}

type Noop struct{}

func (Noop) Push(context.Context, model.Appointment, model.BookingSetting) (Result, error) {
	return Result{}, ErrNotConnected
}

func (Noop) Delete(context.Context, model.Appointment, model.BookingSetting) (bool, error) {
	return false, ErrNotConnected
}
