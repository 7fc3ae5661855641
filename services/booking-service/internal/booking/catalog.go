package booking

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/model"
)

const (
	minSlotInterval   = 5
	maxSlotInterval   = 240
	maxCalendarDays   = 366
	maxReminderOffset = 14 * 24 * 60
)

// Settings returns the organization, creating it with defaults on first access.
func (s *Service) Settings(ctx context.Context, orgID string) (model.Organization, error) {
	if orgID == "" {
		return model.Organization{}, invalidf("org_id is required")
	}
	return s.store.EnsureOrganization(ctx, orgID)
}

func (s *Service) UpdateSettings(ctx context.Context, org model.Organization) (model.Organization, error) {
	org.Name = strings.TrimSpace(org.Name)
	if org.ID == "" {
		return model.Organization{}, invalidf("org_id is required")
	}
	if org.Timezone == "" {
		org.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(org.Timezone); err != nil {
		return model.Organization{}, invalidf("unknown timezone %q", org.Timezone)
	}
	if org.SlotIntervalMinutes == 0 {
		org.SlotIntervalMinutes = availability.DefaultSlotInterval
	}
	if org.SlotIntervalMinutes < minSlotInterval || org.SlotIntervalMinutes > maxSlotInterval {
		return model.Organization{}, invalidf("slot_interval_minutes must be between %d and %d", minSlotInterval, maxSlotInterval)
	}
	for _, o := range org.ReminderOffsetsMinutes {
		if o <= 0 || o > maxReminderOffset {
			return model.Organization{}, invalidf("reminder offset %d out of range", o)
		}
	}
	if _, err := s.store.EnsureOrganization(ctx, org.ID); err != nil {
		return model.Organization{}, err
	}
	return s.store.UpdateOrganization(ctx, org)
}

func (s *Service) CreateService(ctx context.Context, svc model.Service) (model.Service, error) {
	svc.Name = strings.TrimSpace(svc.Name)
	if svc.OrganizationID == "" || svc.Name == "" {
		return model.Service{}, invalidf("org_id and name are required")
	}
	if svc.DurationMinutes <= 0 || svc.DurationMinutes > 24*60 {
		return model.Service{}, invalidf("duration_minutes must be between 1 and 1440")
	}
	if svc.BufferMinutes < 0 {
		return model.Service{}, invalidf("buffer_minutes must not be negative")
	}
	if svc.Price != "" {
		if p, err := strconv.ParseFloat(svc.Price, 64); err != nil || p < 0 {
			return model.Service{}, invalidf("price must be a non-negative number")
		}
	}
	if _, err := s.store.EnsureOrganization(ctx, svc.OrganizationID); err != nil {
		return model.Service{}, err
	}
	return s.store.CreateService(ctx, svc)
}

func (s *Service) ListServices(ctx context.Context, orgID string) ([]model.Service, error) {
	return s.store.ListServices(ctx, orgID)
}

func (s *Service) CreateStaff(ctx context.Context, st model.Staff) (model.Staff, error) {
	st.Name = strings.TrimSpace(st.Name)
	if st.OrganizationID == "" || st.Name == "" {
		return model.Staff{}, invalidf("org_id and name are required")
	}
	if _, err := s.store.EnsureOrganization(ctx, st.OrganizationID); err != nil {
		return model.Staff{}, err
	}
	created, err := s.store.CreateStaff(ctx, st)
	if err != nil {
		return model.Staff{}, err
	}
	s.logger.Info("staff created", "org_id", created.OrganizationID, "staff_id", created.ID)
	return created, nil
}

func (s *Service) ListStaff(ctx context.Context, orgID string) ([]model.Staff, error) {
	return s.store.ListStaff(ctx, orgID)
}

func (s *Service) WorkingHours(ctx context.Context, orgID, staffID string) ([]model.WorkingHours, error) {
	if _, err := s.store.GetStaff(ctx, orgID, staffID); err != nil {
		return nil, err
	}
	return s.store.ListWorkingHours(ctx, staffID)
}

// SetWorkingHours upserts one rule per weekday given; weekdays not listed keep their rule.
func (s *Service) SetWorkingHours(ctx context.Context, orgID, staffID string, hours []model.WorkingHours) ([]model.WorkingHours, error) {
	if err := validateWorkingHours(hours); err != nil {
		return nil, err
	}
	for i := range hours {
		hours[i].StaffID = staffID
	}
	if err := s.store.ReplaceWorkingHours(ctx, orgID, staffID, hours); err != nil {
		return nil, err
	}
	return s.store.ListWorkingHours(ctx, staffID)
}

func validateWorkingHours(hours []model.WorkingHours) error {
	if len(hours) == 0 {
		return invalidf("at least one weekday is required")
	}
	seen := make(map[int]bool, len(hours))
	for _, wh := range hours {
		if wh.Weekday < 0 || wh.Weekday > 6 {
			return invalidf("weekday %d out of range 0..6", wh.Weekday)
		}
		if seen[wh.Weekday] {
			return invalidf("weekday %d listed twice", wh.Weekday)
		}
		seen[wh.Weekday] = true
		if !wh.IsWorking {
			continue
		}
		if wh.StartMinute < 0 || wh.EndMinute > int(availability.EndOfDay) || wh.StartMinute >= wh.EndMinute {
			return invalidf("weekday %d: start must be before end", wh.Weekday)
		}
	}
	return nil
}

// StaffCalendar is the data behind a staff member's calendar feed.
type StaffCalendar struct {
	Organization model.Organization
	Staff        model.Staff
	Appointments []model.Appointment
	Services     map[string]model.Service
}

func (s *Service) StaffCalendar(ctx context.Context, orgID, staffID, from, to string) (StaffCalendar, error) {
	fromDate, err := availability.ParseDate(from)
	if err != nil {
		return StaffCalendar{}, asInvalid(err)
	}
	toDate, err := availability.ParseDate(to)
	if err != nil {
		return StaffCalendar{}, asInvalid(err)
	}
	if toDate.Before(fromDate) || toDate.Sub(fromDate) > maxCalendarDays*24*time.Hour {
		return StaffCalendar{}, invalidf("date range must be forward and at most %d days", maxCalendarDays)
	}

	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return StaffCalendar{}, err
	}
	st, err := s.store.GetStaff(ctx, orgID, staffID)
	if err != nil {
		return StaffCalendar{}, err
	}
	appts, err := s.store.ListStaffRange(ctx, orgID, staffID, from, to)
	if err != nil {
		return StaffCalendar{}, err
	}
	services, err := s.store.ListServices(ctx, orgID)
	if err != nil {
		return StaffCalendar{}, err
	}

	cal := StaffCalendar{Organization: org, Staff: st, Services: make(map[string]model.Service, len(services))}
	for _, svc := range services {
		cal.Services[svc.ID] = svc
	}
	for _, a := range appts {
		if a.Status.Occupies() {
			cal.Appointments = append(cal.Appointments, a)
		}
	}
	return cal, nil
}

// Location exposes the organization's timezone for rendering.
func (s *Service) Location(org model.Organization) *time.Location {
	return s.location(org)
}
