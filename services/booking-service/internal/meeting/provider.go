// Package meeting creates and maintains online meeting rooms for
// appointments on the owner's chosen platform.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

var ErrNotConfigured = errors.New("meeting provider not configured")

type Details struct {
	URL      string
	ID       string
	Password string
}

type Provider interface {
	Name() string
	IsConfigured(settings model.BookingSetting) bool
	CreateMeeting(ctx context.Context, appt model.Appointment, settings model.BookingSetting) (Details, error)
	UpdateMeeting(ctx context.Context, appt model.Appointment, settings model.BookingSetting) error
	// DeleteMeeting reports false when there was nothing to delete.
	DeleteMeeting(ctx context.Context, appt model.Appointment, settings model.BookingSetting) (bool, error)
}

// Registry picks the provider named by the owner's settings.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: map[string]Provider{}}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// For returns the configured provider for settings, or None.
func (r *Registry) For(settings model.BookingSetting) Provider {
	p, ok := r.providers[settings.MeetingPlatform]
	if !ok || !p.IsConfigured(settings) {
		return None{}
	}
	return p
}

// ForAppointment resolves by the platform recorded on appt, which may
// differ from the owner's current choice.
func (r *Registry) ForAppointment(appt model.Appointment, settings model.BookingSetting) Provider {
	if appt.MeetingPlatform == "" {
		return r.For(settings)
	}
	p, ok := r.providers[appt.MeetingPlatform]
	if !ok || !p.IsConfigured(settings) {
		return None{}
	}
	return p
}

// None is used for in-person bookings and owners without a platform.
type None struct{}

func (None) Name() string                          { return model.MeetingPlatformNone }
func (None) IsConfigured(model.BookingSetting) bool { return true }

func (None) CreateMeeting(context.Context, model.Appointment, model.BookingSetting) (Details, error) {
	return Details{}, nil
}

func (None) UpdateMeeting(context.Context, model.Appointment, model.BookingSetting) error {
	return nil
}

func (None) DeleteMeeting(context.Context, model.Appointment, model.BookingSetting) (bool, error) {
	return false, nil
}

// StatusError is a non-2xx answer from a provider API.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.Status, e.Body)
}

// Temporary reports whether retrying may help.
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func checkStatus(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Provider: provider, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func agenda(appt model.Appointment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Attendee: %s <%s>", appt.AttendeeName, appt.AttendeeEmail)
	if appt.AttendeePhone != "" {
		fmt.Fprintf(&b, "\nPhone: %s", appt.AttendeePhone)
	}
	if appt.Notes != "" {
		fmt.Fprintf(&b, "\n\n%s", appt.Notes)
	}
	return b.String()
}
