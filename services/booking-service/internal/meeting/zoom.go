package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

type ZoomConfig struct {
	AccountID    string
	ClientID     string
	ClientSecret string
	APIBase      string
	TokenURL     string
}

// Zoom uses server-to-server OAuth (account credentials grant).
type Zoom struct {
	cfg  ZoomConfig
	http *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewZoom(cfg ZoomConfig) *Zoom {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.zoom.us/v2"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://zoom.us/oauth/token"
	}
	return &Zoom{cfg: cfg, http: &http.Client{Timeout: 10 * time.Second}}
}

func (z *Zoom) Name() string { return model.MeetingPlatformZoom }

func (z *Zoom) IsConfigured(model.BookingSetting) bool {
	return z.cfg.AccountID != "" && z.cfg.ClientID != "" && z.cfg.ClientSecret != ""
}

type zoomMeetingRequest struct {
	Topic     string `json:"topic"`
	Type      int    `json:"type"`
	StartTime string `json:"start_time"`
	Duration  int    `json:"duration"`
	Timezone  string `json:"timezone,omitempty"`
	Agenda    string `json:"agenda,omitempty"`
}

type zoomMeetingResponse struct {
	ID       int64  `json:"id"`
	JoinURL  string `json:"join_url"`
	Password string `json:"password"`
}

func meetingRequest(appt model.Appointment) zoomMeetingRequest {
	return zoomMeetingRequest{
		Topic:     appt.Title,
		Type:      2,
		StartTime: appt.StartTime.UTC().Format("2006-01-02T15:04:05Z"),
		Duration:  int(appt.EndTime.Sub(appt.StartTime).Minutes()),
		Timezone:  appt.Timezone,
		Agenda:    agenda(appt),
	}
}

func (z *Zoom) CreateMeeting(ctx context.Context, appt model.Appointment, _ model.BookingSetting) (Details, error) {
	var out zoomMeetingResponse
	if err := z.do(ctx, http.MethodPost, "/users/me/meetings", meetingRequest(appt), &out); err != nil {
		return Details{}, err
	}
	return Details{URL: out.JoinURL, ID: strconv.FormatInt(out.ID, 10), Password: out.Password}, nil
}

func (z *Zoom) UpdateMeeting(ctx context.Context, appt model.Appointment, _ model.BookingSetting) error {
	if appt.MeetingID == "" {
		return nil
	}
	return z.do(ctx, http.MethodPatch, "/meetings/"+url.PathEscape(appt.MeetingID), meetingRequest(appt), nil)
}

func (z *Zoom) DeleteMeeting(ctx context.Context, appt model.Appointment, _ model.BookingSetting) (bool, error) {
	if appt.MeetingID == "" {
		return false, nil
	}
	err := z.do(ctx, http.MethodDelete, "/meetings/"+url.PathEscape(appt.MeetingID), nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (z *Zoom) do(ctx context.Context, method, path string, in, out any) error {
	token, err := z.accessToken(ctx)
	if err != nil {
		return err
	}
	var raw []byte
	if in != nil {
		if raw, err = json.Marshal(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(z.cfg.APIBase, "/")+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := z.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus("zoom", resp); err != nil {
		return err
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (z *Zoom) accessToken(ctx context.Context) (string, error) {
	if !z.IsConfigured(model.BookingSetting{}) {
		return "", ErrNotConfigured
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.token != "" && time.Now().Before(z.expires) {
		return z.token, nil
	}

	form := url.Values{"grant_type": {"account_credentials"}, "account_id": {z.cfg.AccountID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(z.cfg.ClientID, z.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := z.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus("zoom oauth", resp); err != nil {
		return "", err
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("zoom oauth returned empty token")
	}
	z.token = tok.AccessToken
	// refresh a minute early
	z.expires = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return z.token, nil
}
