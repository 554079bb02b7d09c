package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

type GoogleConfig struct {
	// Token returns an OAuth access token; nil disables sync.
	Token      func(ctx context.Context) (string, error)
	CalendarID string
	APIBase    string
}

type Google struct {
	cfg  GoogleConfig
	http *http.Client
}

func NewGoogle(cfg GoogleConfig) *Google {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://www.googleapis.com/calendar/v3"
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	return &Google{cfg: cfg, http: &http.Client{Timeout: 10 * time.Second}}
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string { return fmt.Sprintf("google calendar returned %d: %s", e.status, e.body) }

func isStatus(err error, codes ...int) bool {
	var ae *apiError
	if !errors.As(err, &ae) {
		return false
	}
	for _, c := range codes {
		if ae.status == c {
			return true
		}
	}
	return false
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type event struct {
	ID          string     `json:"id,omitempty"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       eventTime  `json:"start"`
	End         eventTime  `json:"end"`
	Status      string     `json:"status,omitempty"`
	Attendees   []attendee `json:"attendees,omitempty"`
}

type attendee struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

func toEvent(appt model.Appointment) event {
	desc := fmt.Sprintf("Booked via %s\nAttendee: %s <%s>", appt.BookedVia, appt.AttendeeName, appt.AttendeeEmail)
	if appt.MeetingURL != "" {
		desc += "\nJoin: " + appt.MeetingURL
	}
	if appt.Notes != "" {
		desc += "\n\n" + appt.Notes
	}
	status := "confirmed"
	if appt.Status == model.StatusScheduled {
		status = "tentative"
	}
	return event{
		Summary:     appt.Title,
		Description: desc,
		Location:    appt.MeetingURL,
		Start:       eventTime{DateTime: appt.StartTime.Format(time.RFC3339), TimeZone: appt.Timezone},
		End:         eventTime{DateTime: appt.EndTime.Format(time.RFC3339), TimeZone: appt.Timezone},
		Status:      status,
		Attendees:   []attendee{{Email: appt.AttendeeEmail, DisplayName: appt.AttendeeName}},
	}
}

func (g *Google) calendarPath(settings model.BookingSetting) string {
	id := settings.ExternalCalendarID
	if id == "" {
		id = g.cfg.CalendarID
	}
	return "/calendars/" + url.PathEscape(id)
}

func (g *Google) Push(ctx context.Context, appt model.Appointment, settings model.BookingSetting) (Result, error) {
	if g.cfg.Token == nil {
		return Result{}, ErrNotConnected
	}
	eventID := appt.CalendarEventID
	// A Meet booking already owns a calendar event.
	if eventID == "" && appt.MeetingPlatform == model.MeetingPlatformGoogleMeet {
		eventID = appt.MeetingID
	}

	body := toEvent(appt)
	var out event
	var err error
	if eventID != "" {
		err = g.do(ctx, http.MethodPatch, g.calendarPath(settings)+"/events/"+url.PathEscape(eventID), body, &out)
		if isStatus(err, http.StatusNotFound, http.StatusGone) {
			eventID = ""
		}
	}
	if eventID == "" {
		err = g.do(ctx, http.MethodPost, g.calendarPath(settings)+"/events", body, &out)
	}
	if err != nil {
		return Result{Success: false, Message: err.Error()}, err
	}

	res := Result{Success: true, EventID: out.ID, Message: "synced"}
	busy, err := g.conflicts(ctx, appt, settings)
	if err == nil {
		res.Conflicts = busy
	}
	return res, nil
}

func (g *Google) Delete(ctx context.Context, appt model.Appointment, settings model.BookingSetting) (bool, error) {
	if g.cfg.Token == nil {
		return false, ErrNotConnected
	}
	if appt.CalendarEventID == "" {
		return false, nil
	}
	err := g.do(ctx, http.MethodDelete, g.calendarPath(settings)+"/events/"+url.PathEscape(appt.CalendarEventID), nil, nil)
	if isStatus(err, http.StatusNotFound, http.StatusGone) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// conflicts lists busy blocks on the calendar other than the appointment itself.
func (g *Google) conflicts(ctx context.Context, appt model.Appointment, settings model.BookingSetting) ([]Busy, error) {
	id := settings.ExternalCalendarID
	if id == "" {
		id = g.cfg.CalendarID
	}
	req := map[string]any{
		"timeMin": appt.StartTime.Format(time.RFC3339),
		"timeMax": appt.EndTime.Format(time.RFC3339),
		"items":   []map[string]string{{"id": id}},
	}
	var out struct {
		Calendars map[string]struct {
			Busy []Busy `json:"busy"`
		} `json:"calendars"`
	}
	if err := g.do(ctx, http.MethodPost, "/freeBusy", req, &out); err != nil {
		return nil, err
	}
	var busy []Busy
	for _, b := range out.Calendars[id].Busy {
		// the appointment's own block
		if b.Start.Equal(appt.StartTime) && b.End.Equal(appt.EndTime) {
			continue
		}
		busy = append(busy, b)
	}
	return busy, nil
}

func (g *Google) do(ctx context.Context, method, path string, in, out any) error {
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
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
