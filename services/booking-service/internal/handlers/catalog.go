package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/agendaly/agendaly/libs/httpx"
	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/calendar"
	"github.com/agendaly/agendaly/services/booking-service/internal/model"
)

const (
	calendarLookbackDays  = 30
	calendarLookaheadDays = 180
)

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	org, err := h.svc.Settings(r.Context(), orgID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSettingsJSON(org))
}

type settingsRequest struct {
	Name                   string `json:"name"`
	Timezone               string `json:"timezone"`
	SlotIntervalMinutes    int    `json:"slot_interval_minutes"`
	ReminderOffsetsMinutes []int  `json:"reminder_offsets_minutes"`
}

func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if !decode(w, r, &req) {
		return
	}
	org, err := h.svc.UpdateSettings(r.Context(), model.Organization{
		ID:                     orgID,
		Name:                   req.Name,
		Timezone:               strings.TrimSpace(req.Timezone),
		SlotIntervalMinutes:    req.SlotIntervalMinutes,
		ReminderOffsetsMinutes: req.ReminderOffsetsMinutes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSettingsJSON(org))
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	services, err := h.svc.ListServices(r.Context(), orgID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"services": mapSlice(services, toServiceJSON)})
}

type serviceRequest struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	BufferMinutes   int    `json:"buffer_minutes"`
	Price           string `json:"price"`
	IsActive        *bool  `json:"is_active"`
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	var req serviceRequest
	if !decode(w, r, &req) {
		return
	}
	svc, err := h.svc.CreateService(r.Context(), model.Service{
		OrganizationID:  orgID,
		Name:            req.Name,
		DurationMinutes: req.DurationMinutes,
		BufferMinutes:   req.BufferMinutes,
		Price:           strings.TrimSpace(req.Price),
		IsActive:        req.IsActive == nil || *req.IsActive,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toServiceJSON(svc))
}

func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	staff, err := h.svc.ListStaff(r.Context(), orgID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"staff": mapSlice(staff, toStaffJSON)})
}

type staffRequest struct {
	Name       string   `json:"name"`
	ServiceIDs []string `json:"service_ids"`
	IsActive   *bool    `json:"is_active"`
}

func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	var req staffRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := h.svc.CreateStaff(r.Context(), model.Staff{
		OrganizationID: orgID,
		Name:           req.Name,
		IsActive:       req.IsActive == nil || *req.IsActive,
		ServiceIDs:     req.ServiceIDs,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toStaffJSON(st))
}

func staffParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("staff_id"))
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", "staff_id is required")
		return "", false
	}
	return id, true
}

func (h *Handler) GetWorkingHours(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	staffID, ok := staffParam(w, r)
	if !ok {
		return
	}
	hours, err := h.svc.WorkingHours(r.Context(), orgID, staffID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"staff_id": staffID, "hours": mapSlice(hours, toWorkingHoursJSON)})
}

func (h *Handler) PutWorkingHours(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	staffID, ok := staffParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Hours []workingHoursJSON `json:"hours"`
	}
	if !decode(w, r, &req) {
		return
	}

	hours := make([]model.WorkingHours, 0, len(req.Hours))
	for _, in := range req.Hours {
		wh := model.WorkingHours{Weekday: in.Weekday, IsWorking: in.IsWorking}
		if in.IsWorking {
			start, err := availability.ParseClock(in.StartTime)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error())
				return
			}
			end, err := availability.ParseClock(in.EndTime)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error())
				return
			}
			wh.StartMinute, wh.EndMinute = int(start), int(end)
		}
		hours = append(hours, wh)
	}

	saved, err := h.svc.SetWorkingHours(r.Context(), orgID, staffID, hours)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"staff_id": staffID, "hours": mapSlice(saved, toWorkingHoursJSON)})
}

// Calendar serves an iCalendar feed of the staff member's occupying
// appointments. Without from/to it covers the last 30 and next 180 days.
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenantOrg(w, r)
	if !ok {
		return
	}
	staffID, ok := staffParam(w, r)
	if !ok {
		return
	}
	now := h.now()
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" {
		from = availability.FormatDate(now.AddDate(0, 0, -calendarLookbackDays))
	}
	if to == "" {
		to = availability.FormatDate(now.AddDate(0, 0, calendarLookaheadDays))
	}

	cal, err := h.svc.StaffCalendar(r.Context(), orgID, staffID, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, err := calendar.Render(cal, h.svc.Location(cal.Organization), now.UTC().Truncate(time.Second))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="`+staffID+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
