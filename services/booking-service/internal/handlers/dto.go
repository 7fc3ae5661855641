package handlers

import (
	"time"

	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/booking"
	"github.com/agendaly/agendaly/services/booking-service/internal/model"
)

type slotJSON struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

type slotsResponse struct {
	Date             string     `json:"date"`
	StaffID          string     `json:"staff_id"`
	Closed           bool       `json:"closed"`
	Slots            []slotJSON `json:"slots"`
	UnavailableStaff int        `json:"unavailable_staff,omitempty"`
}

func toSlotsResponse(res booking.SlotResult) slotsResponse {
	out := slotsResponse{
		Date:             res.Date,
		StaffID:          res.StaffID,
		Closed:           res.Closed,
		Slots:            make([]slotJSON, 0, len(res.Slots)),
		UnavailableStaff: res.Unavailable,
	}
	for _, s := range res.Slots {
		out.Slots = append(out.Slots, slotJSON{
			Time:      s.Time.String(),
			Available: s.Available,
		})
	}
	return out
}

type appointmentJSON struct {
	ID              string     `json:"id"`
	StaffID         string     `json:"staff_id"`
	ServiceID       string     `json:"service_id,omitempty"`
	ClientName      string     `json:"client_name,omitempty"`
	ClientEmail     string     `json:"client_email,omitempty"`
	ClientPhone     string     `json:"client_phone,omitempty"`
	Date            string     `json:"date"`
	StartTime       string     `json:"start_time"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	BufferMinutes   *int       `json:"buffer_minutes,omitempty"`
	Status          string     `json:"status"`
	Notes           string     `json:"notes,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toAppointmentJSON(a model.Appointment) appointmentJSON {
	return appointmentJSON{
		ID:              a.ID,
		StaffID:         a.StaffID,
		ServiceID:       a.ServiceID,
		ClientName:      a.ClientName,
		ClientEmail:     a.ClientEmail,
		ClientPhone:     a.ClientPhone,
		Date:            a.Date,
		StartTime:       availability.Clock(a.StartMinute).String(),
		DurationMinutes: a.DurationMinutes,
		BufferMinutes:   a.BufferMinutes,
		Status:          string(a.Status),
		Notes:           a.Notes,
		CancelledAt:     a.CancelledAt,
		CancelReason:    a.CancelReason,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type settingsJSON struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	Timezone               string `json:"timezone"`
	SlotIntervalMinutes    int    `json:"slot_interval_minutes"`
	ReminderOffsetsMinutes []int  `json:"reminder_offsets_minutes"`
}

func toSettingsJSON(o model.Organization) settingsJSON {
	offsets := o.ReminderOffsetsMinutes
	if offsets == nil {
		offsets = []int{}
	}
	return settingsJSON{
		ID:                     o.ID,
		Name:                   o.Name,
		Timezone:               o.Timezone,
		SlotIntervalMinutes:    o.SlotIntervalMinutes,
		ReminderOffsetsMinutes: offsets,
	}
}

type serviceJSON struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	BufferMinutes   int       `json:"buffer_minutes"`
	Price           string    `json:"price,omitempty"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

func toServiceJSON(s model.Service) serviceJSON {
	return serviceJSON{
		ID:              s.ID,
		Name:            s.Name,
		DurationMinutes: s.DurationMinutes,
		BufferMinutes:   s.BufferMinutes,
		Price:           s.Price,
		IsActive:        s.IsActive,
		CreatedAt:       s.CreatedAt,
	}
}

type staffJSON struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	IsActive   bool      `json:"is_active"`
	ServiceIDs []string  `json:"service_ids"`
	CreatedAt  time.Time `json:"created_at"`
}

func toStaffJSON(s model.Staff) staffJSON {
	ids := s.ServiceIDs
	if ids == nil {
		ids = []string{}
	}
	return staffJSON{ID: s.ID, Name: s.Name, IsActive: s.IsActive, ServiceIDs: ids, CreatedAt: s.CreatedAt}
}

type workingHoursJSON struct {
	Weekday   int    `json:"weekday"`
	IsWorking bool   `json:"is_working"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

func toWorkingHoursJSON(wh model.WorkingHours) workingHoursJSON {
	out := workingHoursJSON{Weekday: wh.Weekday, IsWorking: wh.IsWorking}
	if wh.IsWorking {
		out.StartTime = availability.Clock(wh.StartMinute).String()
		out.EndTime = availability.Clock(wh.EndMinute).String()
	}
	return out
}

func mapSlice[T, U any](in []T, fn func(T) U) []U {
	out := make([]U, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}
