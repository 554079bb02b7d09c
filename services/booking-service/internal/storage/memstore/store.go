// Package memstore is an in-process implementation of every storage
// interface the booking service uses. A single mutex is the transaction
// boundary, so InTx callers are fully serialized.
package memstore

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	otelx "github.com/md-rashed-zaman/bookingengine/libs/otel"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/outbox"
)

type jobRow struct {
	job         outbox.Job
	status      string
	lockedUntil time.Time
	lastError   string
	updatedAt   time.Time
}

type Store struct {
	mu sync.Mutex

	router      *outbox.Router
	MaxAttempts int
	Now         func() time.Time

	settings      map[string]model.BookingSetting
	types         map[string]model.AppointmentType
	venues        map[string]model.Venue
	hours         map[string][]model.WorkingHours
	blocked       map[string][]model.BlockedTime
	appointments  map[string]model.Appointment
	contacts      map[string]model.Contact
	notifications []model.Notification
	records       []outbox.Record
	published     map[int64]time.Time
	jobs          map[string]*jobRow
	jobOrder      []string
	nextRecordID  int64
}

func New(router *outbox.Router) *Store {
	if router == nil {
		router = outbox.DefaultRouter()
	}
	return &Store{
		router:       router,
		MaxAttempts:  3,
		Now:          time.Now,
		settings:     map[string]model.BookingSetting{},
		types:        map[string]model.AppointmentType{},
		venues:       map[string]model.Venue{},
		hours:        map[string][]model.WorkingHours{},
		blocked:      map[string][]model.BlockedTime{},
		appointments: map[string]model.Appointment{},
		contacts:     map[string]model.Contact{},
		published:    map[int64]time.Time{},
		jobs:         map[string]*jobRow{},
	}
}

// Seeding helpers.

func (s *Store) PutSettings(v model.BookingSetting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[v.OwnerID] = v
}

func (s *Store) PutType(v model.AppointmentType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[v.ID] = v
}

func (s *Store) PutVenue(v model.Venue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.venues[v.ID] = v
}

func (s *Store) SetWorkingHours(ownerID string, hours []model.WorkingHours) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hours[ownerID] = slices.Clone(hours)
}

// Owner configuration writers, matching the Postgres store.

func (s *Store) SaveSettings(_ context.Context, v model.BookingSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for owner, other := range s.settings {
		if owner != v.OwnerID && strings.EqualFold(other.Slug, v.Slug) {
			return model.ErrSlugTaken
		}
	}
	s.settings[v.OwnerID] = v
	return nil
}

func (s *Store) SaveAppointmentType(_ context.Context, t model.AppointmentType) (model.AppointmentType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	} else if existing, ok := s.types[t.ID]; ok && existing.OwnerID != t.OwnerID {
		return model.AppointmentType{}, model.ErrNotFound
	}
	s.types[t.ID] = t
	return t, nil
}

func (s *Store) SaveVenue(_ context.Context, v model.Venue) (model.Venue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.NewString()
	} else if existing, ok := s.venues[v.ID]; ok && existing.OwnerID != v.OwnerID {
		return model.Venue{}, model.ErrNotFound
	}
	s.venues[v.ID] = v
	return v, nil
}

func (s *Store) ReplaceWorkingHours(_ context.Context, ownerID string, hours []model.WorkingHours) error {
	s.SetWorkingHours(ownerID, hours)
	return nil
}

func (s *Store) AddBlockedTime(_ context.Context, ownerID string, b model.BlockedTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[ownerID] = append(s.blocked[ownerID], b)
	return nil
}

// Catalog.

func (s *Store) Settings(_ context.Context, ownerID string) (model.BookingSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[ownerID]
	if !ok {
		return model.BookingSetting{}, model.ErrNotFound
	}
	return v, nil
}

func (s *Store) SettingsBySlug(_ context.Context, slug string) (model.BookingSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.settings {
		if strings.EqualFold(v.Slug, slug) {
			return v, nil
		}
	}
	return model.BookingSetting{}, model.ErrNotFound
}

func (s *Store) AppointmentType(_ context.Context, ownerID, typeID string) (model.AppointmentType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.types[typeID]
	if !ok || v.OwnerID != ownerID {
		return model.AppointmentType{}, model.ErrNotFound
	}
	return v, nil
}

func (s *Store) ActiveAppointmentTypes(_ context.Context, ownerID string) ([]model.AppointmentType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AppointmentType
	for _, v := range s.types {
		if v.OwnerID == ownerID && v.Active {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) Venue(_ context.Context, ownerID, venueID string) (model.Venue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.venues[venueID]
	if !ok || v.OwnerID != ownerID {
		return model.Venue{}, model.ErrNotFound
	}
	return v, nil
}

func (s *Store) ActiveVenues(_ context.Context, ownerID string) ([]model.Venue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Venue
	for _, v := range s.venues {
		if v.OwnerID == ownerID && v.Active {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) Schedule(_ context.Context, ownerID string) (availability.Schedule, error) {
	s.mu.Lock()
	settings, ok := s.settings[ownerID]
	hours := slices.Clone(s.hours[ownerID])
	blocked := slices.Clone(s.blocked[ownerID])
	s.mu.Unlock()
	if !ok {
		return availability.Schedule{}, model.ErrNotFound
	}
	loc, err := settings.Location()
	if err != nil {
		return availability.Schedule{}, err
	}
	return availability.NewSchedule(loc, hours, blocked)
}

// Appointments.

func (s *Store) BookedIntervals(_ context.Context, ownerID string, from, to time.Time) ([]availability.Interval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []availability.Interval
	for _, a := range s.overlapping(model.OverlapQuery{OwnerID: ownerID, Start: from, End: to}) {
		out = append(out, availability.Interval{Start: a.StartTime, End: a.EndTime})
	}
	return out, nil
}

func (s *Store) Overlapping(_ context.Context, q model.OverlapQuery) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlapping(q), nil
}

func (s *Store) overlapping(q model.OverlapQuery) []model.Appointment {
	var out []model.Appointment
	for _, a := range s.appointments {
		if q.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (s *Store) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListByOwner(_ context.Context, ownerID string, from, to time.Time, includeDeleted bool) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.OwnerID != ownerID || (!includeDeleted && a.DeletedAt != nil) {
			continue
		}
		if !from.IsZero() && !a.EndTime.After(from) || !to.IsZero() && !a.StartTime.Before(to) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *Store) SetCalendarEventID(_ context.Context, id, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return model.ErrNotFound
	}
	a.CalendarEventID = eventID
	s.appointments[id] = a
	return nil
}

// InTx runs fn under the store lock and rolls back every change if fn fails.
func (s *Store) InTx(ctx context.Context, fn func(booking.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	appts := maps.Clone(s.appointments)
	records := slices.Clone(s.records)
	jobOrder := slices.Clone(s.jobOrder)
	jobs := maps.Clone(s.jobs)
	nextID := s.nextRecordID

	if err := fn(&tx{s: s, ctx: ctx}); err != nil {
		s.appointments, s.records, s.jobOrder, s.jobs, s.nextRecordID = appts, records, jobOrder, jobs, nextID
		return err
	}
	return nil
}

type tx struct {
	s   *Store
	ctx context.Context
}

func (t *tx) Overlapping(_ context.Context, q model.OverlapQuery) ([]model.Appointment, error) {
	return t.s.overlapping(q), nil
}

func (t *tx) LockSchedule(context.Context, string, string) error { return nil }

// violatesExclusion mirrors the database exclusion constraints.
func (t *tx) violatesExclusion(a model.Appointment) bool {
	if !a.Blocking() {
		return false
	}
	if len(t.s.overlapping(model.OverlapQuery{OwnerID: a.OwnerID, Start: a.StartTime, End: a.EndTime, ExcludeID: a.ID})) > 0 {
		return true
	}
	return a.VenueID != "" && len(t.s.overlapping(model.OverlapQuery{VenueID: a.VenueID, Start: a.StartTime, End: a.EndTime, ExcludeID: a.ID})) > 0
}

func (t *tx) Insert(_ context.Context, a *model.Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if t.violatesExclusion(*a) {
		return model.ErrOverlap
	}
	t.s.appointments[a.ID] = *a
	return nil
}

func (t *tx) GetForUpdate(_ context.Context, id string) (model.Appointment, error) {
	a, ok := t.s.appointments[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return a, nil
}

func (t *tx) GetByTokenForUpdate(_ context.Context, token string) (model.Appointment, error) {
	for _, a := range t.s.appointments {
		if a.ConfirmationToken != "" && a.ConfirmationToken == token {
			return a, nil
		}
	}
	return model.Appointment{}, model.ErrNotFound
}

func (t *tx) Update(_ context.Context, a model.Appointment) error {
	if _, ok := t.s.appointments[a.ID]; !ok {
		return model.ErrNotFound
	}
	if t.violatesExclusion(a) {
		return model.ErrOverlap
	}
	t.s.appointments[a.ID] = a
	return nil
}

func (t *tx) HardDelete(_ context.Context, id string) error {
	if _, ok := t.s.appointments[id]; !ok {
		return model.ErrNotFound
	}
	delete(t.s.appointments, id)
	return nil
}

func (t *tx) Emit(ctx context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	var stored events.Event
	if err := json.Unmarshal(payload, &stored); err != nil {
		return err
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	s := t.s
	s.nextRecordID++
	s.records = append(s.records, outbox.Record{
		ID:          s.nextRecordID,
		EventID:     evt.ID,
		EventType:   string(evt.Type),
		AggregateID: evt.AppointmentID,
		OwnerID:     evt.OwnerID,
		Payload:     payload,
		Traceparent: traceparent,
		Tracestate:  tracestate,
		CreatedAt:   s.Now().UTC(),
	})
	for _, sub := range s.router.Subscribers(evt.Type) {
		id := uuid.NewString()
		s.jobs[id] = &jobRow{
			job: outbox.Job{
				ID:          id,
				Subscriber:  sub,
				Event:       stored,
				MaxAttempts: s.MaxAttempts,
				NextRunAt:   s.Now().UTC(),
				Traceparent: traceparent,
				Tracestate:  tracestate,
			},
			status: "pending",
		}
		s.jobOrder = append(s.jobOrder, id)
	}
	return nil
}
