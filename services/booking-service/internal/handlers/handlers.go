package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/agendaly/agendaly/libs/auth"
	"github.com/agendaly/agendaly/libs/httpx"
	"github.com/agendaly/agendaly/services/booking-service/internal/booking"
	"github.com/agendaly/agendaly/services/booking-service/internal/model"
	"github.com/agendaly/agendaly/services/booking-service/internal/storage"
)

// BookingService is the application surface the HTTP layer drives.
type BookingService interface {
	Slots(ctx context.Context, q booking.SlotQuery) (booking.SlotResult, error)
	Create(ctx context.Context, req booking.CreateRequest) (booking.CreateResult, error)
	Block(ctx context.Context, req booking.BlockRequest) (model.Appointment, error)
	Reschedule(ctx context.Context, req booking.RescheduleRequest) (model.Appointment, error)
	Cancel(ctx context.Context, orgID, appointmentID, reason string) (model.Appointment, error)
	SetStatus(ctx context.Context, orgID, appointmentID, status string) (model.Appointment, error)
	List(ctx context.Context, orgID string, f storage.AppointmentFilter) ([]model.Appointment, error)

	Settings(ctx context.Context, orgID string) (model.Organization, error)
	UpdateSettings(ctx context.Context, org model.Organization) (model.Organization, error)
	CreateService(ctx context.Context, svc model.Service) (model.Service, error)
	ListServices(ctx context.Context, orgID string) ([]model.Service, error)
	CreateStaff(ctx context.Context, st model.Staff) (model.Staff, error)
	ListStaff(ctx context.Context, orgID string) ([]model.Staff, error)
	WorkingHours(ctx context.Context, orgID, staffID string) ([]model.WorkingHours, error)
	SetWorkingHours(ctx context.Context, orgID, staffID string, hours []model.WorkingHours) ([]model.WorkingHours, error)
	StaffCalendar(ctx context.Context, orgID, staffID, from, to string) (booking.StaffCalendar, error)
	Location(org model.Organization) *time.Location
}

var _ BookingService = (*booking.Service)(nil)

// ReplayedHeader marks a response answered from an earlier request with the
// same Idempotency-Key.
const ReplayedHeader = "Idempotent-Replayed"

type Handler struct {
	svc    BookingService
	logger *slog.Logger
	now    func() time.Time
}

func New(svc BookingService, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger, now: time.Now}
}

// Register mounts the public booking routes behind public and the tenant
// routes behind tenant. Tenant handlers read the organization from the token.
func (h *Handler) Register(mux *http.ServeMux, public, tenant httpx.Middleware) {
	pub := func(fn http.HandlerFunc) http.Handler { return public(fn) }
	ten := func(fn http.HandlerFunc) http.Handler { return tenant(fn) }

	mux.Handle("GET /api/v1/public/slots", pub(h.Slots))
	mux.Handle("POST /api/v1/public/book", pub(h.Book))

	mux.Handle("GET /api/v1/appointments", ten(h.ListAppointments))
	mux.Handle("POST /api/v1/appointments", ten(h.CreateAppointment))
	mux.Handle("POST /api/v1/appointments/reschedule", ten(h.Reschedule))
	mux.Handle("POST /api/v1/appointments/cancel", ten(h.Cancel))
	mux.Handle("POST /api/v1/appointments/status", ten(h.SetStatus))
	mux.Handle("POST /api/v1/appointments/block", ten(h.Block))

	mux.Handle("GET /api/v1/org/settings", ten(h.GetSettings))
	mux.Handle("PUT /api/v1/org/settings", ten(h.PutSettings))
	mux.Handle("GET /api/v1/services", ten(h.ListServices))
	mux.Handle("POST /api/v1/services", ten(h.CreateService))
	mux.Handle("GET /api/v1/staff", ten(h.ListStaff))
	mux.Handle("POST /api/v1/staff", ten(h.CreateStaff))
	mux.Handle("GET /api/v1/staff/working-hours", ten(h.GetWorkingHours))
	mux.Handle("PUT /api/v1/staff/working-hours", ten(h.PutWorkingHours))
	mux.Handle("GET /api/v1/staff/calendar.ics", ten(h.Calendar))
}

// tenantOrg returns the organization of the authenticated caller, writing 401
// when the request carries no usable claims.
func tenantOrg(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.OrgID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing organization claim")
		return "", false
	}
	return claims.OrgID, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}
