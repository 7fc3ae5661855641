package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/agendaly/agendaly/libs/httpx"
	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/booking"
	"github.com/agendaly/agendaly/services/booking-service/internal/model"
	"github.com/agendaly/agendaly/services/booking-service/internal/storage"
)

const idempotencyHeader = "Idempotency-Key"

type bookRequest struct {
	OrgID       string `json:"org_id"`
	StaffID     string `json:"staff_id"`
	ServiceID   string `json:"service_id"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
	ClientPhone string `json:"client_phone"`
	Notes       string `json:"notes"`
	Status      string `json:"status"`
}

func (req bookRequest) toCreate(r *http.Request) booking.CreateRequest {
	return booking.CreateRequest{
		OrgID:          strings.TrimSpace(req.OrgID),
		StaffID:        strings.TrimSpace(req.StaffID),
		ServiceID:      strings.TrimSpace(req.ServiceID),
		Date:           req.Date,
		StartTime:      req.StartTime,
		ClientName:     req.ClientName,
		ClientEmail:    strings.TrimSpace(req.ClientEmail),
		ClientPhone:    strings.TrimSpace(req.ClientPhone),
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	}
}

// Slots serves the public availability grid. staff_id defaults to "any".
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	staffID := strings.TrimSpace(q.Get("staff_id"))
	if staffID == "" {
		staffID = availability.AnyProfessional
	}
	res, err := h.svc.Slots(r.Context(), booking.SlotQuery{
		OrgID:     strings.TrimSpace(q.Get("org_id")),
		StaffID:   staffID,
		ServiceID: strings.TrimSpace(q.Get("service_id")),
		Date:      q.Get("date"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSlotsResponse(res))
}

// Book is the public booking endpoint. Bookings always start PENDING.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Status != "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", "status cannot be set on public bookings")
		return
	}
	h.create(w, r, req.toCreate(r))
}

// CreateAppointment lets staff book on a client's behalf, optionally already CONFIRMED.
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	var req bookRequest
	if !decode(w, r, &req) {
		return
	}
	create := req.toCreate(r)
	create.OrgID = orgID
	if req.Status != "" {
		st, ok := model.ParseStatus(req.Status)
		if !ok {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_input", "unknown status "+strconv.Quote(req.Status))
			return
		}
		create.Status = st
	}
	h.create(w, r, create)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, req booking.CreateRequest) {
	res, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		w.Header().Set(ReplayedHeader, "true")
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, toAppointmentJSON(res.Appointment))
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := storage.AppointmentFilter{
		Date:    strings.TrimSpace(q.Get("date")),
		StaffID: strings.TrimSpace(q.Get("staff_id")),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	appts, err := h.svc.List(r.Context(), orgID, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": mapSlice(appts, toAppointmentJSON)})
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	StaffID       string `json:"staff_id"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
}

func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	appt, err := h.svc.Reschedule(r.Context(), booking.RescheduleRequest{
		OrgID:         orgID,
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		StaffID:       strings.TrimSpace(req.StaffID),
		Date:          req.Date,
		StartTime:     req.StartTime,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentJSON(appt))
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}
	appt, err := h.svc.Cancel(r.Context(), orgID, strings.TrimSpace(req.AppointmentID), strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentJSON(appt))
}

type statusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	appt, err := h.svc.SetStatus(r.Context(), orgID, strings.TrimSpace(req.AppointmentID), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentJSON(appt))
}

type blockRequest struct {
	StaffID         string `json:"staff_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes"`
}

func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	var req blockRequest
	if !decode(w, r, &req) {
		return
	}
	appt, err := h.svc.Block(r.Context(), booking.BlockRequest{
		OrgID:           orgID,
		StaffID:         strings.TrimSpace(req.StaffID),
		Date:            req.Date,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toAppointmentJSON(appt))
}
