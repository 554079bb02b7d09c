package wizard

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/venues"
)

var (
	day   = availability.Date{Year: 2026, Month: time.March, Day: 2}
	slot1 = availability.Interval{Start: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)}
	slot2 = availability.Interval{Start: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
)

func inPersonType() model.AppointmentType {
	return model.AppointmentType{ID: "visit", Format: model.FormatInPerson, RequiresLocation: true, DurationMinutes: 60, Active: true}
}

func driveToContact(t *testing.T, typ model.AppointmentType) *State {
	t.Helper()
	st := &State{Step: StepSelectType}
	if err := st.SelectType(typ); err != nil {
		t.Fatalf("select type: %v", err)
	}
	if err := st.SelectDate(day, []availability.Interval{slot1, slot2}); err != nil {
		t.Fatalf("select date: %v", err)
	}
	if err := st.SelectTime(slot2.Start); err != nil {
		t.Fatalf("select time: %v", err)
	}
	if typ.Format.RequiresVenue() {
		if st.Step != StepSelectVenue {
			t.Fatalf("expected venue step, got %s", st.Step)
		}
		st.OfferVenues(venues.Options{Venues: []model.Venue{{ID: "v1"}, {ID: "v2"}}, Preselected: "v2"})
		if st.VenueID != "v2" {
			t.Fatalf("expected preselected v2, got %q", st.VenueID)
		}
		if err := st.SelectVenue("v1"); err != nil {
			t.Fatalf("select venue: %v", err)
		}
	}
	if st.Step != StepContactInfo {
		t.Fatalf("expected contact step, got %s", st.Step)
	}
	return st
}

func TestBack_InPersonClearsTimeAndVenue(t *testing.T) {
	st := driveToContact(t, inPersonType())

	if err := st.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if st.Step != StepSelectVenue || st.VenueID != "v1" {
		t.Fatalf("expected venue step with selection kept, got %s %q", st.Step, st.VenueID)
	}
	if err := st.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if st.Step != StepSelectDateTime {
		t.Fatalf("expected date/time step, got %s", st.Step)
	}
	if st.VenueID != "" || st.VenueStepEntered || !st.Start.IsZero() || len(st.Slots) != 0 || !st.Date.IsZero() {
		t.Fatalf("expected selections cleared, got %+v", st)
	}
	if err := st.SelectTime(slot1.Start); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("expected date to be required again, got %v", err)
	}
}

func TestBack_OnlineSkipsVenue(t *testing.T) {
	st := driveToContact(t, model.AppointmentType{ID: "call", Format: model.FormatOnline, DurationMinutes: 60})
	if st.VenueStepEntered {
		t.Fatalf("online booking entered the venue step")
	}
	if err := st.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if st.Step != StepSelectDateTime || !st.Start.IsZero() || !st.Date.IsZero() {
		t.Fatalf("expected cleared date/time step, got %+v", st)
	}
	if err := st.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if st.Step != StepSelectType || st.TypeID != "" {
		t.Fatalf("expected type step, got %+v", st)
	}
	if err := st.Back(); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep at first step, got %v", err)
	}
}

func TestSelectVenue_RequiredAndOffered(t *testing.T) {
	st := &State{Step: StepSelectType}
	_ = st.SelectType(inPersonType())
	_ = st.SelectDate(day, []availability.Interval{slot1})
	_ = st.SelectTime(slot1.Start)
	st.OfferVenues(venues.Options{Venues: []model.Venue{{ID: "v1"}}})

	if err := st.SelectVenue(""); !errors.Is(err, ErrUnknownVenue) {
		t.Fatalf("expected required venue error, got %v", err)
	}
	if err := st.SelectVenue("v9"); !errors.Is(err, ErrUnknownVenue) {
		t.Fatalf("expected unknown venue error, got %v", err)
	}

	optional := &State{Step: StepSelectType}
	_ = optional.SelectType(model.AppointmentType{ID: "hybrid", Format: model.FormatHybrid})
	_ = optional.SelectDate(day, []availability.Interval{slot1})
	_ = optional.SelectTime(slot1.Start)
	if err := optional.SelectVenue(""); err != nil {
		t.Fatalf("expected optional venue to be skippable, got %v", err)
	}
}

func TestRouteConflict(t *testing.T) {
	st := driveToContact(t, inPersonType())
	st.RouteConflict()
	if st.Step != StepSelectDateTime || st.Date != day || st.Slots != nil || !st.Start.IsZero() || st.VenueID != "" {
		t.Fatalf("unexpected state after conflict %+v", st)
	}
	if st.Notice == "" {
		t.Fatalf("expected a notice for the visitor")
	}
}

func TestStepOrderEnforced(t *testing.T) {
	st := &State{Step: StepSelectType}
	if err := st.SelectTime(slot1.Start); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep, got %v", err)
	}
	if err := st.Confirm(model.Appointment{}); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep, got %v", err)
	}
}

func TestStepJSON(t *testing.T) {
	raw, err := json.Marshal(State{Step: StepSelectVenue, Date: day})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back State
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Step != StepSelectVenue || back.Date != day {
		t.Fatalf("unexpected round trip %+v from %s", back, raw)
	}
}
