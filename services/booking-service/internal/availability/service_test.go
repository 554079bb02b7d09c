package availability

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

type staticSchedule struct{ s Schedule }

func (f staticSchedule) Schedule(context.Context, string) (Schedule, error) { return f.s, nil }

type staticBooked struct{ busy []Interval }

func (f staticBooked) BookedIntervals(_ context.Context, _ string, from, to time.Time) ([]Interval, error) {
	var out []Interval
	for _, b := range f.busy {
		if b.Overlaps(Interval{Start: from, End: to}) {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestService_AvailableSlotsRemovesBooked(t *testing.T) {
	sched, err := NewSchedule(time.UTC, []model.WorkingHours{{Weekday: time.Monday, Start: "09:00", End: "17:00"}}, nil)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	booked := Interval{Start: time.Date(2026, 1, 26, 10, 0, 0, 0, time.UTC), End: time.Date(2026, 1, 26, 10, 30, 0, 0, time.UTC)}
	now := func() time.Time { return time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC) }
	svc := NewService(staticSchedule{sched}, staticBooked{busy: []Interval{booked}}, now)

	slots, err := svc.AvailableSlots(context.Background(), "owner-1", Date{Year: 2026, Month: time.January, Day: 26}, 30, 2)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 13 {
		t.Fatalf("expected 13 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(booked.End) {
		t.Fatalf("expected first slot 10:30, got %s", slots[0].Start.Format(time.RFC3339))
	}
}

func TestService_RejectsBadInput(t *testing.T) {
	svc := NewService(staticSchedule{}, staticBooked{}, nil)
	if _, err := svc.AvailableSlots(context.Background(), "o", Date{Year: 2026, Month: 1, Day: 1}, 0, 0); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.AvailableDates(context.Background(), "o", -1, 0); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
