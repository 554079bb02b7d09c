package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/bookingengine/libs/auth"
	"github.com/md-rashed-zaman/bookingengine/libs/httpx"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/model"
)

// Bookings is the owner side of the booking service.
type Bookings interface {
	Get(ctx context.Context, ownerID, id string) (model.Appointment, error)
	List(ctx context.Context, ownerID string, from, to time.Time, includeDeleted bool) ([]model.Appointment, error)
	Cancel(ctx context.Context, ownerID, id, reason string) (model.Appointment, error)
	Approve(ctx context.Context, ownerID, id string) (model.Appointment, error)
	Reschedule(ctx context.Context, ownerID, id string, newStart time.Time) (model.Appointment, error)
	Delete(ctx context.Context, ownerID, id string) error
	Restore(ctx context.Context, ownerID, id string) (model.Appointment, error)
	ForceDelete(ctx context.Context, ownerID, id string) error
}

type Inbox interface {
	NotificationsByOwner(ctx context.Context, ownerID string, limit int) ([]model.Notification, error)
}

type ownerKey struct{}

func ownerFrom(ctx context.Context) string {
	id, _ := ctx.Value(ownerKey{}).(string)
	return id
}

// OwnerHandler serves the authenticated owner API.
type OwnerHandler struct {
	bookings Bookings
	catalog  CatalogWriter
	inbox    Inbox
	secret   string
	logger   *slog.Logger
	now      func() time.Time
}

func NewOwnerHandler(bookings Bookings, catalog CatalogWriter, inbox Inbox, secret string, logger *slog.Logger) *OwnerHandler {
	return &OwnerHandler{bookings: bookings, catalog: catalog, inbox: inbox, secret: secret, logger: logger, now: time.Now}
}

func (h *OwnerHandler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/v1/owner/appointments", h.auth(h.List))
	mux.Handle("GET /api/v1/owner/appointments/{id}", h.auth(h.Get))
	mux.Handle("POST /api/v1/owner/appointments/{id}/cancel", h.auth(h.Cancel))
	mux.Handle("POST /api/v1/owner/appointments/{id}/approve", h.auth(h.Approve))
	mux.Handle("POST /api/v1/owner/appointments/{id}/reschedule", h.auth(h.Reschedule))
	mux.Handle("DELETE /api/v1/owner/appointments/{id}", h.auth(h.Delete))
	mux.Handle("POST /api/v1/owner/appointments/{id}/restore", h.auth(h.Restore))
	mux.Handle("GET /api/v1/owner/notifications", h.auth(h.Notifications))
	mux.Handle("PUT /api/v1/owner/settings", h.auth(h.SaveSettings))
	mux.Handle("PUT /api/v1/owner/working-hours", h.auth(h.ReplaceWorkingHours))
	mux.Handle("POST /api/v1/owner/appointment-types", h.auth(h.SaveAppointmentType))
	mux.Handle("POST /api/v1/owner/venues", h.auth(h.SaveVenue))
	mux.Handle("POST /api/v1/owner/blocked-times", h.auth(h.AddBlockedTime))
}

func (h *OwnerHandler) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := auth.ParseAndVerifyHS256(token, h.secret, h.now())
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, claims.Sub)))
	})
}

func (h *OwnerHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := h.now().UTC().AddDate(0, 0, -1), h.now().UTC().AddDate(0, 0, 30)
	var err error
	if raw := q.Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid from")
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid to")
			return
		}
	}
	if !to.After(from) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "to must be after from")
		return
	}
	includeDeleted, _ := strconv.ParseBool(q.Get("include_deleted"))
	appts, err := h.bookings.List(r.Context(), ownerFrom(r.Context()), from, to, includeDeleted)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

func (h *OwnerHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.bookings.Get(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	h.respond(w, r, appt, err)
}

type ownerCancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *OwnerHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req ownerCancelRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	appt, err := h.bookings.Cancel(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), req.Reason)
	h.respond(w, r, appt, err)
}

func (h *OwnerHandler) Approve(w http.ResponseWriter, r *http.Request) {
	appt, err := h.bookings.Approve(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	h.respond(w, r, appt, err)
}

type rescheduleRequest struct {
	StartTime string `json:"start_time"`
}

func (h *OwnerHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid start_time")
		return
	}
	appt, err := h.bookings.Reschedule(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), start)
	h.respond(w, r, appt, err)
}

// Delete soft-deletes; ?force=true removes the row for good.
func (h *OwnerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, id := ownerFrom(r.Context()), r.PathValue("id")
	var err error
	if force, _ := strconv.ParseBool(r.URL.Query().Get("force")); force {
		err = h.bookings.ForceDelete(r.Context(), ownerID, id)
	} else {
		err = h.bookings.Delete(r.Context(), ownerID, id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OwnerHandler) Restore(w http.ResponseWriter, r *http.Request) {
	appt, err := h.bookings.Restore(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	h.respond(w, r, appt, err)
}

type notificationItem struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id,omitempty"`
	Kind          string `json:"kind"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	CreatedAt     string `json:"created_at"`
}

func (h *OwnerHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	list, err := h.inbox.NotificationsByOwner(r.Context(), ownerFrom(r.Context()), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]notificationItem, 0, len(list))
	for _, n := range list {
		items = append(items, notificationItem{
			ID:            n.ID,
			AppointmentID: n.AppointmentID,
			Kind:          n.Kind,
			Title:         n.Title,
			Body:          n.Body,
			CreatedAt:     n.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (h *OwnerHandler) respond(w http.ResponseWriter, r *http.Request, appt model.Appointment, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *OwnerHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *booking.ValidationError
	switch {
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, model.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, booking.ErrSlotUnavailable):
		httpx.WriteError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, model.ErrSlugTaken):
		httpx.WriteError(w, http.StatusConflict, "slug_taken", err.Error())
	case errors.As(err, &verr):
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, httpx.ErrorBody{Error: "validation failed", Code: "validation_failed", Fields: verr.Fields})
	default:
		h.logger.Error("owner request failed", "owner_id", ownerFrom(r.Context()), "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
