package model

import (
	"slices"
	"time"
)

const (
	MeetingPlatformNone       = "none"
	MeetingPlatformZoom       = "zoom"
	MeetingPlatformGoogleMeet = "google_meet"
)

// BookingSetting is the owner's public booking configuration. One per owner.
type BookingSetting struct {
	OwnerID            string `json:"owner_id"`
	OwnerName          string `json:"owner_name"`
	OwnerEmail         string `json:"-"`
	Slug               string `json:"slug"`
	Enabled            bool   `json:"enabled"`
	Timezone           string `json:"timezone"`
	MinNoticeHours     int    `json:"min_notice_hours"`
	MaxDaysAhead       int    `json:"max_days_ahead"`
	RequiresApproval   bool   `json:"requires_approval"`
	MeetingPlatform    string `json:"meeting_platform"`
	ExternalCalendarID string `json:"-"`
}

// Location resolves Timezone, defaulting to UTC.
func (s BookingSetting) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

func (s BookingSetting) MinNotice() time.Duration {
	if s.MinNoticeHours < 0 {
		return 0
	}
	return time.Duration(s.MinNoticeHours) * time.Hour
}

type AppointmentType struct {
	ID               string   `json:"id"`
	OwnerID          string   `json:"owner_id"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	DurationMinutes  int      `json:"duration_minutes"`
	Format           Format   `json:"format"`
	RequirePhone     bool     `json:"require_phone"`
	RequireCompany   bool     `json:"require_company"`
	RequiresLocation bool     `json:"requires_location"`
	AllowedVenueIDs  []string `json:"allowed_venue_ids,omitempty"`
	DefaultVenueID   string   `json:"default_venue_id,omitempty"`
	Active           bool     `json:"active"`
	SortOrder        int      `json:"sort_order"`
}

func (t AppointmentType) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// VenueMandatory reports whether a booking of this type cannot commit without a venue.
func (t AppointmentType) VenueMandatory() bool {
	return t.RequiresLocation && t.Format.RequiresVenue()
}

// AllowsVenue reports whether venueID is eligible; an empty allow-list admits all venues.
func (t AppointmentType) AllowsVenue(venueID string) bool {
	return len(t.AllowedVenueIDs) == 0 || slices.Contains(t.AllowedVenueIDs, venueID)
}

type Venue struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	// Capacity is the number of attendees the room holds.
	Capacity int  `json:"capacity"`
	Active   bool `json:"active"`
	// AvailableFrom/AvailableUntil are "15:04" clock times in the owner's timezone.
	// Blank means the venue is usable at any time of day.
	AvailableFrom  string `json:"available_from,omitempty"`
	AvailableUntil string `json:"available_until,omitempty"`
}

// WorkingHours is one weekly window in the owner's timezone.
type WorkingHours struct {
	Weekday time.Weekday
	Start   string
	End     string
}

type BlockedTime struct {
	Start  time.Time
	End    time.Time
	Reason string
}

type Contact struct {
	ID        string
	OwnerID   string
	Email     string
	Name      string
	Phone     string
	Company   string
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notification is an in-app message for the owner.
type Notification struct {
	ID            string
	OwnerID       string
	AppointmentID string
	Kind          string
	Title         string
	Body          string
	CreatedAt     time.Time
}
