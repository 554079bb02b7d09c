package availability

import (
	"context"
	"errors"
	"slices"
	"time"
)

var ErrInvalidInput = errors.New("invalid availability query")

type ScheduleSource interface {
	Schedule(ctx context.Context, ownerID string) (Schedule, error)
}

// BookedSource lists intervals held by the owner's blocking appointments.
type BookedSource interface {
	BookedIntervals(ctx context.Context, ownerID string, from, to time.Time) ([]Interval, error)
}

// Service answers the public "which days / which times" questions. Results
// are advisory: the commit path re-checks conflicts inside its transaction.
type Service struct {
	schedules ScheduleSource
	booked    BookedSource
	now       func() time.Time
}

func NewService(schedules ScheduleSource, booked BookedSource, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{schedules: schedules, booked: booked, now: now}
}

func (s *Service) AvailableDates(ctx context.Context, ownerID string, horizonDays, minNoticeHours int) ([]Date, error) {
	if horizonDays < 0 || minNoticeHours < 0 {
		return nil, ErrInvalidInput
	}
	sched, err := s.schedules.Schedule(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	notBefore := now.Add(time.Duration(minNoticeHours) * time.Hour)
	return slices.Collect(Dates(sched, DateOf(now, sched.location()), horizonDays, notBefore)), nil
}

// AvailableSlots returns free slots on day, with already-booked ones removed.
func (s *Service) AvailableSlots(ctx context.Context, ownerID string, day Date, durationMinutes, minNoticeHours int) ([]Interval, error) {
	if durationMinutes <= 0 || minNoticeHours < 0 || day.IsZero() {
		return nil, ErrInvalidInput
	}
	sched, err := s.schedules.Schedule(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	notBefore := s.now().Add(time.Duration(minNoticeHours) * time.Hour)
	candidates := slices.Collect(Slots(sched, day, time.Duration(durationMinutes)*time.Minute, notBefore))
	if len(candidates) == 0 {
		return nil, nil
	}

	busy, err := s.booked.BookedIntervals(ctx, ownerID, candidates[0].Start, candidates[len(candidates)-1].End)
	if err != nil {
		return nil, err
	}
	free := candidates[:0]
	for _, c := range candidates {
		if !OverlapsAny(c, busy) {
			free = append(free, c)
		}
	}
	return free, nil
}
