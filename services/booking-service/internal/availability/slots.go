package availability

import (
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// Overlaps treats both intervals as half-open: [s1,e1) overlaps [s2,e2) iff s1 < e2 && s2 < e1.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies fully inside i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func OverlapsAny(iv Interval, busy []Interval) bool {
	for _, b := range busy {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}

type Window struct {
	Start Clock
	End   Clock
}

// Schedule is an owner's weekly working hours and blocked times in one timezone.
type Schedule struct {
	Location *time.Location
	Weekly   map[time.Weekday][]Window
	Blocked  []Interval
}

// NewSchedule validates and converts stored working hours.
func NewSchedule(loc *time.Location, hours []model.WorkingHours, blocked []model.BlockedTime) (Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := Schedule{Location: loc, Weekly: map[time.Weekday][]Window{}}
	for i, h := range hours {
		start, err := ParseClock(h.Start)
		if err != nil {
			return Schedule{}, fmt.Errorf("working hours[%d]: %w", i, err)
		}
		end, err := ParseClock(h.End)
		if err != nil {
			return Schedule{}, fmt.Errorf("working hours[%d]: %w", i, err)
		}
		if start.Minutes() >= end.Minutes() {
			return Schedule{}, fmt.Errorf("working hours[%d]: start %s not before end %s", i, start, end)
		}
		s.Weekly[h.Weekday] = append(s.Weekly[h.Weekday], Window{Start: start, End: end})
	}
	for wd := range s.Weekly {
		ws := s.Weekly[wd]
		sort.Slice(ws, func(a, b int) bool { return ws[a].Start.Minutes() < ws[b].Start.Minutes() })
	}
	for _, b := range blocked {
		if b.End.After(b.Start) {
			s.Blocked = append(s.Blocked, Interval{Start: b.Start, End: b.End})
		}
	}
	return s, nil
}

// WindowsOn returns the day's working windows as absolute intervals, in order.
func (s Schedule) WindowsOn(day Date) []Interval {
	loc := s.location()
	var out []Interval
	for _, w := range s.Weekly[day.Weekday()] {
		start := day.At(w.Start, loc)
		end := day.At(w.End, loc)
		if w.End.Hour == 24 {
			end = day.AddDays(1).At(Clock{}, loc)
		}
		if end.After(start) {
			out = append(out, Interval{Start: start, End: end})
		}
	}
	return out
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// Slots yields the bookable intervals on day: fixed-stride candidates of length
// duration anchored at each window start, kept when they fit the window, start
// at or after notBefore, and miss every blocked time. The sequence holds no
// state and can be ranged over repeatedly.
func Slots(s Schedule, day Date, duration time.Duration, notBefore time.Time) iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		if duration <= 0 {
			return
		}
		for _, win := range s.WindowsOn(day) {
			for t := win.Start; !t.Add(duration).After(win.End); t = t.Add(duration) {
				if t.Before(notBefore) {
					continue
				}
				slot := Interval{Start: t, End: t.Add(duration)}
				if OverlapsAny(slot, s.Blocked) {
					continue
				}
				if !yield(slot) {
					return
				}
			}
		}
	}
}

// Fits reports whether iv is exactly one of the slots Slots would produce.
func Fits(s Schedule, iv Interval, notBefore time.Time) bool {
	if !iv.End.After(iv.Start) {
		return false
	}
	day := DateOf(iv.Start, s.location())
	for slot := range Slots(s, day, iv.Duration(), notBefore) {
		if slot.Start.Equal(iv.Start) && slot.End.Equal(iv.End) {
			return true
		}
	}
	return false
}

// Dates yields days in [from, from+horizonDays] that have working time left
// after notBefore and that are not fully blocked.
func Dates(s Schedule, from Date, horizonDays int, notBefore time.Time) iter.Seq[Date] {
	return func(yield func(Date) bool) {
		for i := 0; i <= horizonDays; i++ {
			day := from.AddDays(i)
			if !s.hasOpenTime(day, notBefore) {
				continue
			}
			if !yield(day) {
				return
			}
		}
	}
}

func (s Schedule) hasOpenTime(day Date, notBefore time.Time) bool {
	for _, win := range s.WindowsOn(day) {
		if !win.End.After(notBefore) {
			continue
		}
		if win.Start.Before(notBefore) {
			win.Start = notBefore
		}
		if !coveredBy(win, s.Blocked) {
			return true
		}
	}
	return false
}

// coveredBy reports whether the union of blocked covers all of win.
func coveredBy(win Interval, blocked []Interval) bool {
	var parts []Interval
	for _, b := range blocked {
		if b.Overlaps(win) {
			parts = append(parts, b)
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Start.Before(parts[j].Start) })
	cursor := win.Start
	for _, p := range parts {
		if p.Start.After(cursor) {
			return false
		}
		if p.End.After(cursor) {
			cursor = p.End
		}
		if !cursor.Before(win.End) {
			return true
		}
	}
	return !cursor.Before(win.End)
}
