package booking

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrSlotUnavailable   = errors.New("slot no longer available")
	ErrNotFound          = errors.New("appointment not found")
	ErrBookingDisabled   = errors.New("booking disabled")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Field keys used in ValidationError.Fields.
const (
	FieldAppointmentType = "appointment_type_id"
	FieldStartTime       = "start_time"
	FieldVenue           = "venue_id"
	FieldName            = "name"
	FieldEmail           = "email"
	FieldPhone           = "phone"
	FieldCompany         = "company"
	FieldNotes           = "notes"
)

// ValidationError carries field-level messages for the visitor. It never
// reaches the outbox.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// VenueMissing reports whether the failure should send the visitor back to venue selection.
func (e *ValidationError) VenueMissing() bool {
	_, ok := e.Fields[FieldVenue]
	return ok
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// ConflictError means the requested interval is taken or no longer bookable.
// It matches ErrSlotUnavailable with errors.Is.
type ConflictError struct {
	Start time.Time
	End   time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s-%s no longer available", e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error { return ErrSlotUnavailable }
