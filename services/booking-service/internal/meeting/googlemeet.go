package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

// TokenSource returns a Google OAuth access token.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken wraps a fixed access token. A blank token yields nil, which
// leaves the provider unconfigured.
func StaticToken(token string) TokenSource {
	if token == "" {
		return nil
	}
	return func(context.Context) (string, error) { return token, nil }
}

type GoogleMeetConfig struct {
	Token      TokenSource
	CalendarID string
	APIBase    string
}

// GoogleMeet creates a Calendar event with a Meet conference attached. The
// event id doubles as the meeting id.
type GoogleMeet struct {
	cfg  GoogleMeetConfig
	http *http.Client
}

func NewGoogleMeet(cfg GoogleMeetConfig) *GoogleMeet {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://www.googleapis.com/calendar/v3"
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	return &GoogleMeet{cfg: cfg, http: &http.Client{Timeout: 10 * time.Second}}
}

func (g *GoogleMeet) Name() string { return model.MeetingPlatformGoogleMeet }

func (g *GoogleMeet) IsConfigured(model.BookingSetting) bool {
	return g.cfg.Token != nil
}

type gcalTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type gcalEvent struct {
	ID             string          `json:"id,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	Description    string          `json:"description,omitempty"`
	Start          *gcalTime       `json:"start,omitempty"`
	End            *gcalTime       `json:"end,omitempty"`
	Attendees      []gcalAttendee  `json:"attendees,omitempty"`
	HangoutLink    string          `json:"hangoutLink,omitempty"`
	ConferenceData *conferenceData `json:"conferenceData,omitempty"`
}

type gcalAttendee struct {
	Email string `json:"email"`
}

type conferenceData struct {
	CreateRequest *createRequest `json:"createRequest,omitempty"`
}

type createRequest struct {
	RequestID             string                `json:"requestId"`
	ConferenceSolutionKey conferenceSolutionKey `json:"conferenceSolutionKey"`
}

type conferenceSolutionKey struct {
	Type string `json:"type"`
}

func (g *GoogleMeet) calendar(settings model.BookingSetting) string {
	if settings.ExternalCalendarID != "" {
		return settings.ExternalCalendarID
	}
	return g.cfg.CalendarID
}

func eventBody(appt model.Appointment) gcalEvent {
	return gcalEvent{
		Summary:     appt.Title,
		Description: agenda(appt),
		Start:       &gcalTime{DateTime: appt.StartTime.Format(time.RFC3339), TimeZone: appt.Timezone},
		End:         &gcalTime{DateTime: appt.EndTime.Format(time.RFC3339), TimeZone: appt.Timezone},
		Attendees:   []gcalAttendee{{Email: appt.AttendeeEmail}},
	}
}

func (g *GoogleMeet) CreateMeeting(ctx context.Context, appt model.Appointment, settings model.BookingSetting) (Details, error) {
	body := eventBody(appt)
	body.ConferenceData = &conferenceData{CreateRequest: &createRequest{
		RequestID:             uuid.NewString(),
		ConferenceSolutionKey: conferenceSolutionKey{Type: "hangoutsMeet"},
	}}
	var out gcalEvent
	path := "/calendars/" + url.PathEscape(g.calendar(settings)) + "/events?conferenceDataVersion=1&sendUpdates=all"
	if err := g.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return Details{}, err
	}
	return Details{URL: out.HangoutLink, ID: out.ID}, nil
}

func (g *GoogleMeet) UpdateMeeting(ctx context.Context, appt model.Appointment, settings model.BookingSetting) error {
	if appt.MeetingID == "" {
		return nil
	}
	path := "/calendars/" + url.PathEscape(g.calendar(settings)) + "/events/" + url.PathEscape(appt.MeetingID) + "?sendUpdates=all"
	return g.do(ctx, http.MethodPatch, path, eventBody(appt), nil)
}

func (g *GoogleMeet) DeleteMeeting(ctx context.Context, appt model.Appointment, settings model.BookingSetting) (bool, error) {
	if appt.MeetingID == "" {
		return false, nil
	}
	path := "/calendars/" + url.PathEscape(g.calendar(settings)) + "/events/" + url.PathEscape(appt.MeetingID) + "?sendUpdates=all"
	err := g.do(ctx, http.MethodDelete, path, nil, nil)
	var se *StatusError
	if errors.As(err, &se) && (se.Status == http.StatusNotFound || se.Status == http.StatusGone) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (g *GoogleMeet) do(ctx context.Context, method, path string, in, out any) error {
	if g.cfg.Token == nil {
		return ErrNotConfigured
	}
	token, err := g.cfg.Token(ctx)
	if err != nil {
		return err
	}
	var raw []byte
	if in != nil {
		if raw, err = json.Marshal(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(g.cfg.APIBase, "/")+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus("google calendar", resp); err != nil {
		return err
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
