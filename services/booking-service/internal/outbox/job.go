// Package outbox runs the side effects of committed appointment changes.
// Every event written by a booking transaction fans out into one job per
// subscriber; a worker leases due jobs, runs the subscriber handler and
// retries with backoff until the attempt budget is spent.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/events"
)

const (
	SubscriberSideEffects = "side_effects"
	SubscriberMeetings    = "meetings"
	SubscriberReconcile   = "reconcile"
)

type Job struct {
	ID          string
	Subscriber  string
	Event       events.Event
	Attempts    int
	MaxAttempts int
	NextRunAt   time.Time
	Traceparent string
	Tracestate  string
}

// FinalAttempt reports whether a failure now exhausts the job. Attempts is
// incremented when the job is claimed.
func (j Job) FinalAttempt() bool {
	return j.MaxAttempts > 0 && j.Attempts >= j.MaxAttempts
}

// Router maps event types to the subscribers that get a job for them.
type Router struct {
	routes map[events.Type][]string
}

func NewRouter() *Router {
	return &Router{routes: map[events.Type][]string{}}
}

// DefaultRouter wires the booking subscribers.
func DefaultRouter() *Router {
	r := NewRouter()
	r.Subscribe(events.AppointmentCreated, SubscriberSideEffects, SubscriberReconcile)
	r.Subscribe(events.AppointmentUpdated, SubscriberMeetings, SubscriberReconcile)
	r.Subscribe(events.AppointmentDeleted, SubscriberMeetings, SubscriberReconcile)
	r.Subscribe(events.AppointmentRestored, SubscriberSideEffects, SubscriberReconcile)
	return r
}

func (r *Router) Subscribe(t events.Type, subscribers ...string) {
	r.routes[t] = append(r.routes[t], subscribers...)
}

func (r *Router) Subscribers(t events.Type) []string {
	return r.routes[t]
}

type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
