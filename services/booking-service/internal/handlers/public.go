package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/bookingengine/libs/httpx"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/wizard"
)

// TokenCanceller is the attendee self-cancel operation.
type TokenCanceller interface {
	CancelByToken(ctx context.Context, token, reason string) (model.Appointment, error)
}

// PublicHandler serves the unauthenticated booking pages.
type PublicHandler struct {
	flow   *wizard.Flow
	cancel TokenCanceller
	logger *slog.Logger
}

func NewPublicHandler(flow *wizard.Flow, cancel TokenCanceller, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{flow: flow, cancel: cancel, logger: logger}
}

func (h *PublicHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/public/{slug}", h.Page)
	mux.HandleFunc("GET /api/v1/public/{slug}/dates", h.Dates)
	mux.HandleFunc("POST /api/v1/public/{slug}/sessions", h.StartSession)
	mux.HandleFunc("GET /api/v1/public/{slug}/sessions/{id}", h.GetSession)
	mux.HandleFunc("POST /api/v1/public/{slug}/sessions/{id}/type", h.SelectType)
	mux.HandleFunc("POST /api/v1/public/{slug}/sessions/{id}/date", h.SelectDate)
	mux.HandleFunc("POST /api/v1/public/{slug}/sessions/{id}/time", h.SelectTime)
	mux.HandleFunc("POST /api/v1/public/{slug}/sessions/{id}/venue", h.SelectVenue)
	mux.HandleFunc("POST /api/v1/public/{slug}/sessions/{id}/back", h.Back)
	mux.HandleFunc("POST /api/v1/public/{slug}/sessions/{id}/submit", h.Submit)
	mux.HandleFunc("POST /api/v1/public/appointments/cancel", h.CancelByToken)
}

// sessionView is the visitor-facing session. The confirmation token only
// travels by email.
type sessionView struct {
	wizard.State
	ConfirmationToken string `json:"confirmation_token,omitempty"`
}

func viewOf(st wizard.State) sessionView {
	return sessionView{State: st}
}

type sessionErrorBody struct {
	httpx.ErrorBody
	Session *sessionView `json:"session,omitempty"`
}

func (h *PublicHandler) Page(w http.ResponseWriter, r *http.Request) {
	page, err := h.flow.Page(r.Context(), r.PathValue("slug"))
	if err != nil {
		h.writeFlowError(w, r, wizard.State{}, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *PublicHandler) Dates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.flow.Dates(r.Context(), r.PathValue("slug"))
	if err != nil {
		h.writeFlowError(w, r, wizard.State{}, err)
		return
	}
	if dates == nil {
		dates = []availability.Date{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

func (h *PublicHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	st, err := h.flow.Start(r.Context(), r.PathValue("slug"))
	if err != nil {
		h.writeFlowError(w, r, wizard.State{}, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, viewOf(st))
}

func (h *PublicHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	st, err := h.flow.Session(r.Context(), r.PathValue("slug"), r.PathValue("id"))
	h.respond(w, r, st, err)
}

type selectTypeRequest struct {
	TypeID string `json:"type_id"`
}

func (h *PublicHandler) SelectType(w http.ResponseWriter, r *http.Request) {
	var req selectTypeRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := h.flow.SelectType(r.Context(), r.PathValue("slug"), r.PathValue("id"), strings.TrimSpace(req.TypeID))
	h.respond(w, r, st, err)
}

type selectDateRequest struct {
	Date availability.Date `json:"date"`
}

func (h *PublicHandler) SelectDate(w http.ResponseWriter, r *http.Request) {
	var req selectDateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Date.IsZero() {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "date is required")
		return
	}
	st, err := h.flow.SelectDate(r.Context(), r.PathValue("slug"), r.PathValue("id"), req.Date)
	h.respond(w, r, st, err)
}

type selectTimeRequest struct {
	StartTime string `json:"start_time"`
}

func (h *PublicHandler) SelectTime(w http.ResponseWriter, r *http.Request) {
	var req selectTimeRequest
	if !decode(w, r, &req) {
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid start_time")
		return
	}
	st, err := h.flow.SelectTime(r.Context(), r.PathValue("slug"), r.PathValue("id"), start)
	h.respond(w, r, st, err)
}

type selectVenueRequest struct {
	VenueID string `json:"venue_id"`
}

func (h *PublicHandler) SelectVenue(w http.ResponseWriter, r *http.Request) {
	var req selectVenueRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := h.flow.SelectVenue(r.Context(), r.PathValue("slug"), r.PathValue("id"), strings.TrimSpace(req.VenueID))
	h.respond(w, r, st, err)
}

func (h *PublicHandler) Back(w http.ResponseWriter, r *http.Request) {
	st, err := h.flow.Back(r.Context(), r.PathValue("slug"), r.PathValue("id"))
	h.respond(w, r, st, err)
}

func (h *PublicHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req booking.Contact
	if !decode(w, r, &req) {
		return
	}
	st, err := h.flow.Submit(r.Context(), r.PathValue("slug"), r.PathValue("id"), req)
	if err != nil {
		h.writeFlowError(w, r, st, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, viewOf(st))
}

type cancelByTokenRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason,omitempty"`
}

type cancelResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at"`
}

func (h *PublicHandler) CancelByToken(w http.ResponseWriter, r *http.Request) {
	var req cancelByTokenRequest
	if !decode(w, r, &req) {
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	appt, err := h.cancel.CancelByToken(r.Context(), req.Token, strings.TrimSpace(req.Reason))
	switch {
	case errors.Is(err, booking.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "booking not found or already cancelled")
		return
	case err != nil:
		h.logger.Error("cancel by token failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "could not cancel booking")
		return
	}
	resp := cancelResponse{AppointmentID: appt.ID, Status: string(appt.Status)}
	if appt.CancelledAt != nil {
		resp.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *PublicHandler) respond(w http.ResponseWriter, r *http.Request, st wizard.State, err error) {
	if err != nil {
		h.writeFlowError(w, r, st, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, viewOf(st))
}

// writeFlowError maps wizard and booking errors onto status codes. When the
// failure routed the session somewhere the new state rides along.
func (h *PublicHandler) writeFlowError(w http.ResponseWriter, r *http.Request, st wizard.State, err error) {
	body := sessionErrorBody{ErrorBody: httpx.ErrorBody{Error: err.Error()}}
	if st.ID != "" {
		v := viewOf(st)
		body.Session = &v
	}
	var verr *booking.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, wizard.ErrPageNotFound), errors.Is(err, booking.ErrBookingDisabled):
		status, body.Code, body.Session = http.StatusNotFound, "page_not_found", nil
	case errors.Is(err, wizard.ErrSessionNotFound):
		status, body.Code, body.Session = http.StatusNotFound, "session_not_found", nil
	case errors.As(err, &verr):
		status, body.Code, body.Fields = http.StatusUnprocessableEntity, "validation_failed", verr.Fields
	case errors.Is(err, booking.ErrSlotUnavailable):
		status, body.Code = http.StatusConflict, "slot_unavailable"
	case errors.Is(err, wizard.ErrInvalidStep), errors.Is(err, wizard.ErrUnknownSlot),
		errors.Is(err, wizard.ErrUnknownVenue), errors.Is(err, wizard.ErrDateOutOfRange):
		status, body.Code = http.StatusBadRequest, "invalid_step"
	default:
		h.logger.Error("booking flow failed", "slug", r.PathValue("slug"), "session_id", r.PathValue("id"), "err", err)
		body.Error, body.Code, body.Session = "internal error", "internal", nil
	}
	httpx.WriteJSON(w, status, body)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return false
	}
	return true
}
