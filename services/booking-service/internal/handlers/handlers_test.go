package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookingengine/libs/auth"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/sessions"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/storage/memstore"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/venues"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/wizard"
)

const (
	testOwner  = "owner-1"
	testSecret = "test-secret"
)

var testNow = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC) // Monday

type testServer struct {
	store *memstore.Store
	svc   *booking.Service
	mux   *http.ServeMux
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	clock := func() time.Time { return testNow }
	store := memstore.New(nil)
	store.Now = clock
	store.PutSettings(model.BookingSetting{OwnerID: testOwner, Slug: "studio", Enabled: true, Timezone: "UTC", MinNoticeHours: 1, MaxDaysAhead: 14, RequiresApproval: true})
	store.SetWorkingHours(testOwner, []model.WorkingHours{{Weekday: time.Monday, Start: "09:00", End: "12:00"}})
	store.PutType(model.AppointmentType{ID: "call", OwnerID: testOwner, Name: "Call", DurationMinutes: 60, Format: model.FormatOnline, Active: true})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := booking.NewService(store, store, store, logger, clock)
	flow := wizard.NewFlow(sessions.NewMemoryStore(time.Hour), store, availability.NewService(store, store, clock),
		venues.NewResolver(store, store), svc, logger, clock)

	mux := http.NewServeMux()
	NewPublicHandler(flow, svc, logger).Register(mux)
	owner := NewOwnerHandler(svc, store, store, testSecret, logger)
	owner.now = clock
	owner.Register(mux)
	return testServer{store: store, svc: svc, mux: mux}
}

func (s testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func ownerToken(t *testing.T, sub string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.Claims{Sub: sub, Iat: testNow.Unix(), Exp: testNow.Add(time.Hour).Unix()}, testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

type sessionResp struct {
	ID                string            `json:"id"`
	Step              string            `json:"step"`
	AppointmentID     string            `json:"appointment_id"`
	ConfirmationToken string            `json:"confirmation_token"`
	Errors            map[string]string `json:"errors"`
	Slots             []struct {
		Start time.Time `json:"start"`
	} `json:"slots"`
}

func TestPublicFlow_EndToEnd(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/public/studio", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("page: expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/v1/public/studio/sessions", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d", rec.Code)
	}
	var st sessionResp
	decodeBody(t, rec, &st)
	base := "/api/v1/public/studio/sessions/" + st.ID

	steps := []struct {
		path string
		body any
		step string
	}{
		{"/type", map[string]string{"type_id": "call"}, "select_date_time"},
		{"/date", map[string]string{"date": "2026-03-02"}, "select_date_time"},
		{"/time", map[string]string{"start_time": "2026-03-02T10:00:00Z"}, "contact_info"},
	}
	for _, step := range steps {
		rec = s.do(t, http.MethodPost, base+step.path, step.body, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d %s", step.path, rec.Code, rec.Body.String())
		}
		decodeBody(t, rec, &st)
		if st.Step != step.step {
			t.Fatalf("%s: expected step %s, got %s", step.path, step.step, st.Step)
		}
	}

	rec = s.do(t, http.MethodPost, base+"/submit", map[string]string{"name": "Ada", "email": "bad"}, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("submit invalid: expected 422, got %d", rec.Code)
	}
	var verr struct {
		Fields  map[string]string `json:"fields"`
		Session sessionResp       `json:"session"`
	}
	decodeBody(t, rec, &verr)
	if verr.Fields["email"] == "" || verr.Session.Step != "contact_info" {
		t.Fatalf("unexpected validation body %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, base+"/submit", map[string]string{"name": "Ada", "email": "ada@example.com"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &st)
	if st.Step != "confirmed" || st.AppointmentID == "" {
		t.Fatalf("unexpected confirmation %+v", st)
	}
	if st.ConfirmationToken != "" {
		t.Fatalf("confirmation token leaked in response")
	}

	appt, err := s.store.Get(t.Context(), st.AppointmentID)
	if err != nil || appt.Status != model.StatusScheduled {
		t.Fatalf("expected pending-approval appointment, got %+v %v", appt, err)
	}

	rec = s.do(t, http.MethodGet, base, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected discarded session to be 404, got %d", rec.Code)
	}
}

func TestPublicFlow_ConflictReturns409WithRoutedSession(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/public/studio/sessions", nil, "")
	var st sessionResp
	decodeBody(t, rec, &st)
	base := "/api/v1/public/studio/sessions/" + st.ID
	s.do(t, http.MethodPost, base+"/type", map[string]string{"type_id": "call"}, "")
	s.do(t, http.MethodPost, base+"/date", map[string]string{"date": "2026-03-02"}, "")
	s.do(t, http.MethodPost, base+"/time", map[string]string{"start_time": "2026-03-02T10:00:00Z"}, "")

	if _, err := s.svc.Submit(t.Context(), booking.Request{OwnerID: testOwner, TypeID: "call", Start: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), Contact: booking.Contact{Name: "Bob", Email: "bob@example.com"}}); err != nil {
		t.Fatalf("competing submit: %v", err)
	}

	rec = s.do(t, http.MethodPost, base+"/submit", map[string]string{"name": "Ada", "email": "ada@example.com"}, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Code    string      `json:"code"`
		Session sessionResp `json:"session"`
	}
	decodeBody(t, rec, &body)
	if body.Code != "slot_unavailable" || body.Session.Step != "select_date_time" || len(body.Session.Slots) != 2 {
		t.Fatalf("unexpected conflict body %s", rec.Body.String())
	}
}

func TestPublicFlow_ErrorsMapToStatus(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/api/v1/public/nobody", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown slug: expected 404, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/public/studio/sessions/missing", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session: expected 404, got %d", rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/api/v1/public/studio/sessions", nil, "")
	var st sessionResp
	decodeBody(t, rec, &st)
	rec = s.do(t, http.MethodPost, "/api/v1/public/studio/sessions/"+st.ID+"/time", map[string]string{"start_time": "2026-03-02T10:00:00Z"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-order step: expected 400, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/v1/public/studio/sessions/"+st.ID+"/type", map[string]string{"type_id": "call", "extra": "x"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", rec.Code)
	}
}

func TestCancelByToken_SingleUse(t *testing.T) {
	s := newTestServer(t)
	appt, err := s.svc.Submit(t.Context(), booking.Request{OwnerID: testOwner, TypeID: "call", Start: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), Contact: booking.Contact{Name: "Ada", Email: "ada@example.com"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	rec := s.do(t, http.MethodPost, "/api/v1/public/appointments/cancel", map[string]string{"token": appt.ConfirmationToken}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/api/v1/public/appointments/cancel", map[string]string{"token": appt.ConfirmationToken}, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected reused token to be 404, got %d", rec.Code)
	}
}

func TestOwner_RequiresBearer(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/api/v1/owner/appointments", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/owner/appointments", nil, "not.a.jwt"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}

func TestOwner_ApproveRescheduleDelete(t *testing.T) {
	s := newTestServer(t)
	tok := ownerToken(t, testOwner)
	appt, err := s.svc.Submit(t.Context(), booking.Request{OwnerID: testOwner, TypeID: "call", Start: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), Contact: booking.Contact{Name: "Ada", Email: "ada@example.com"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	path := "/api/v1/owner/appointments/" + appt.ID

	if rec := s.do(t, http.MethodGet, path, nil, ownerToken(t, "someone-else")); rec.Code != http.StatusNotFound {
		t.Fatalf("other owner: expected 404, got %d", rec.Code)
	}

	rec := s.do(t, http.MethodPost, path+"/approve", nil, tok)
	var got model.Appointment
	decodeBody(t, rec, &got)
	if rec.Code != http.StatusOK || got.Status != model.StatusConfirmed {
		t.Fatalf("approve: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodPost, path+"/approve", nil, tok); rec.Code != http.StatusConflict {
		t.Fatalf("second approve: expected 409, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, path+"/reschedule", map[string]string{"start_time": "2026-03-02T11:00:00Z"}, tok)
	decodeBody(t, rec, &got)
	if rec.Code != http.StatusOK || !got.StartTime.Equal(time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("reschedule: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodPost, path+"/reschedule", map[string]string{"start_time": "2026-03-02T18:00:00Z"}, tok); rec.Code != http.StatusConflict {
		t.Fatalf("reschedule outside hours: expected 409, got %d", rec.Code)
	}

	if rec := s.do(t, http.MethodDelete, path, nil, tok); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/v1/owner/appointments?include_deleted=true", nil, tok)
	var list struct {
		Appointments []model.Appointment `json:"appointments"`
	}
	decodeBody(t, rec, &list)
	if len(list.Appointments) != 1 || list.Appointments[0].DeletedAt == nil {
		t.Fatalf("expected soft-deleted appointment in list, got %s", rec.Body.String())
	}
	if rec := s.do(t, http.MethodPost, path+"/restore", nil, tok); rec.Code != http.StatusOK {
		t.Fatalf("restore: expected 200, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, path+"?force=true", nil, tok); rec.Code != http.StatusNoContent {
		t.Fatalf("force delete: expected 204, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, path, nil, tok); rec.Code != http.StatusNotFound {
		t.Fatalf("after force delete: expected 404, got %d", rec.Code)
	}
}

func TestOwner_ConfigValidation(t *testing.T) {
	s := newTestServer(t)
	tok := ownerToken(t, "owner-2")

	rec := s.do(t, http.MethodPut, "/api/v1/owner/settings", map[string]any{"slug": "Bad Slug", "timezone": "Mars/Olympus", "max_days_ahead": 30}, tok)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	decodeBody(t, rec, &body)
	if body.Fields["slug"] == "" || body.Fields["timezone"] == "" {
		t.Fatalf("expected slug and timezone errors, got %v", body.Fields)
	}

	rec = s.do(t, http.MethodPut, "/api/v1/owner/settings", map[string]any{"slug": "studio", "timezone": "Europe/Berlin", "max_days_ahead": 30}, tok)
	if rec.Code != http.StatusConflict {
		t.Fatalf("taken slug: expected 409, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPut, "/api/v1/owner/settings", map[string]any{"slug": "clinic", "timezone": "Europe/Berlin", "max_days_ahead": 30, "enabled": true}, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("settings: expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPut, "/api/v1/owner/working-hours", map[string]any{"hours": []map[string]any{{"weekday": 1, "start": "17:00", "end": "09:00"}}}, tok)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("inverted hours: expected 422, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPut, "/api/v1/owner/working-hours", map[string]any{"hours": []map[string]any{{"weekday": 1, "start": "09:00", "end": "17:00"}}}, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("hours: expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/v1/owner/appointment-types", map[string]any{"name": "Visit", "duration_minutes": 45, "format": "in_person", "requires_location": true, "active": true}, tok)
	var typ model.AppointmentType
	decodeBody(t, rec, &typ)
	if rec.Code != http.StatusOK || typ.ID == "" || typ.OwnerID != "owner-2" {
		t.Fatalf("type: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/v1/owner/blocked-times", map[string]any{"start": "2026-03-09T12:00:00Z", "end": "2026-03-09T10:00:00Z"}, tok)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("inverted blocked time: expected 422, got %d", rec.Code)
	}
}
