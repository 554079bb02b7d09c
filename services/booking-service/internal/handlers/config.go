package handlers

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/md-rashed-zaman/bookingengine/libs/httpx"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

// CatalogWriter stores the owner's booking page configuration.
type CatalogWriter interface {
	SaveSettings(ctx context.Context, v model.BookingSetting) error
	SaveAppointmentType(ctx context.Context, t model.AppointmentType) (model.AppointmentType, error)
	SaveVenue(ctx context.Context, v model.Venue) (model.Venue, error)
	ReplaceWorkingHours(ctx context.Context, ownerID string, hours []model.WorkingHours) error
	AddBlockedTime(ctx context.Context, ownerID string, b model.BlockedTime) error
}

var configValidate = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := availability.ParseClock(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		for _, r := range s {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
		return s != ""
	})
	return v
}

var configMessages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email address",
	"timezone": "must be an IANA timezone",
	"clock":    "must be HH:MM",
	"slug":     "may contain only lowercase letters, digits and dashes",
	"oneof":    "is not an allowed value",
	"gtfield":  "must be after start",
	"min":      "is too small",
	"max":      "is too large",
}

// validateConfig returns nil or a ValidationError keyed by json field name.
func validateConfig(v any) error {
	err := configValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := map[string]string{}
	for _, fe := range verrs {
		msg, ok := configMessages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		fields[fe.Field()] = msg
	}
	return &booking.ValidationError{Fields: fields}
}

type settingsRequest struct {
	OwnerName          string `json:"owner_name" validate:"max=255"`
	OwnerEmail         string `json:"owner_email" validate:"omitempty,email"`
	Slug               string `json:"slug" validate:"required,slug,max=100"`
	Enabled            bool   `json:"enabled"`
	Timezone           string `json:"timezone" validate:"required,timezone"`
	MinNoticeHours     int    `json:"min_notice_hours" validate:"min=0,max=720"`
	MaxDaysAhead       int    `json:"max_days_ahead" validate:"min=1,max=365"`
	RequiresApproval   bool   `json:"requires_approval"`
	MeetingPlatform    string `json:"meeting_platform" validate:"omitempty,oneof=none zoom google_meet"`
	ExternalCalendarID string `json:"external_calendar_id,omitempty"`
}

func (h *OwnerHandler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validateConfig(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.MeetingPlatform == "" {
		req.MeetingPlatform = model.MeetingPlatformNone
	}
	settings := model.BookingSetting{
		OwnerID:            ownerFrom(r.Context()),
		OwnerName:          strings.TrimSpace(req.OwnerName),
		OwnerEmail:         strings.TrimSpace(req.OwnerEmail),
		Slug:               req.Slug,
		Enabled:            req.Enabled,
		Timezone:           req.Timezone,
		MinNoticeHours:     req.MinNoticeHours,
		MaxDaysAhead:       req.MaxDaysAhead,
		RequiresApproval:   req.RequiresApproval,
		MeetingPlatform:    req.MeetingPlatform,
		ExternalCalendarID: strings.TrimSpace(req.ExternalCalendarID),
	}
	if err := h.catalog.SaveSettings(r.Context(), settings); err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, settings)
}

type workingHoursItem struct {
	Weekday int    `json:"weekday" validate:"min=0,max=6"`
	Start   string `json:"start" validate:"required,clock"`
	End     string `json:"end" validate:"required,clock"`
}

type workingHoursRequest struct {
	Hours []workingHoursItem `json:"hours" validate:"dive"`
}

func (h *OwnerHandler) ReplaceWorkingHours(w http.ResponseWriter, r *http.Request) {
	var req workingHoursRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validateConfig(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	hours := make([]model.WorkingHours, 0, len(req.Hours))
	for _, it := range req.Hours {
		hours = append(hours, model.WorkingHours{Weekday: time.Weekday(it.Weekday), Start: it.Start, End: it.End})
	}
	if _, err := availability.NewSchedule(time.UTC, hours, nil); err != nil {
		h.writeError(w, r, &booking.ValidationError{Fields: map[string]string{"hours": err.Error()}})
		return
	}
	if err := h.catalog.ReplaceWorkingHours(r.Context(), ownerFrom(r.Context()), hours); err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"hours": req.Hours})
}

type appointmentTypeRequest struct {
	ID               string   `json:"id,omitempty"`
	Name             string   `json:"name" validate:"required,max=255"`
	Description      string   `json:"description,omitempty" validate:"max=2000"`
	DurationMinutes  int      `json:"duration_minutes" validate:"min=5,max=1440"`
	Format           string   `json:"format" validate:"required,oneof=online in_person hybrid"`
	RequirePhone     bool     `json:"require_phone"`
	RequireCompany   bool     `json:"require_company"`
	RequiresLocation bool     `json:"requires_location"`
	AllowedVenueIDs  []string `json:"allowed_venue_ids,omitempty"`
	DefaultVenueID   string   `json:"default_venue_id,omitempty"`
	Active           bool     `json:"active"`
	SortOrder        int      `json:"sort_order"`
}

func (h *OwnerHandler) SaveAppointmentType(w http.ResponseWriter, r *http.Request) {
	var req appointmentTypeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validateConfig(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	typ, err := h.catalog.SaveAppointmentType(r.Context(), model.AppointmentType{
		ID:               strings.TrimSpace(req.ID),
		OwnerID:          ownerFrom(r.Context()),
		Name:             strings.TrimSpace(req.Name),
		Description:      strings.TrimSpace(req.Description),
		DurationMinutes:  req.DurationMinutes,
		Format:           model.Format(req.Format),
		RequirePhone:     req.RequirePhone,
		RequireCompany:   req.RequireCompany,
		RequiresLocation: req.RequiresLocation,
		AllowedVenueIDs:  req.AllowedVenueIDs,
		DefaultVenueID:   strings.TrimSpace(req.DefaultVenueID),
		Active:           req.Active,
		SortOrder:        req.SortOrder,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, typ)
}

type venueRequest struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name" validate:"required,max=255"`
	Address        string `json:"address,omitempty" validate:"max=500"`
	Capacity       int    `json:"capacity" validate:"min=0"`
	Active         bool   `json:"active"`
	AvailableFrom  string `json:"available_from,omitempty" validate:"omitempty,clock"`
	AvailableUntil string `json:"available_until,omitempty" validate:"omitempty,clock"`
}

func (h *OwnerHandler) SaveVenue(w http.ResponseWriter, r *http.Request) {
	var req venueRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validateConfig(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	venue, err := h.catalog.SaveVenue(r.Context(), model.Venue{
		ID:             strings.TrimSpace(req.ID),
		OwnerID:        ownerFrom(r.Context()),
		Name:           strings.TrimSpace(req.Name),
		Address:        strings.TrimSpace(req.Address),
		Capacity:       req.Capacity,
		Active:         req.Active,
		AvailableFrom:  req.AvailableFrom,
		AvailableUntil: req.AvailableUntil,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, venue)
}

type blockedTimeRequest struct {
	Start  time.Time `json:"start" validate:"required"`
	End    time.Time `json:"end" validate:"required,gtfield=Start"`
	Reason string    `json:"reason,omitempty" validate:"max=255"`
}

func (h *OwnerHandler) AddBlockedTime(w http.ResponseWriter, r *http.Request) {
	var req blockedTimeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validateConfig(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	b := model.BlockedTime{Start: req.Start.UTC(), End: req.End.UTC(), Reason: strings.TrimSpace(req.Reason)}
	if err := h.catalog.AddBlockedTime(r.Context(), ownerFrom(r.Context()), b); err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, req)
}
