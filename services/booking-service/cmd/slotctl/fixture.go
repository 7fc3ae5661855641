package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/model"
)

// fixture is an offline snapshot of one organization's schedule.
type fixture struct {
	SlotIntervalMinutes int                  `json:"slot_interval_minutes"`
	Services            []fixtureService     `json:"services"`
	Staff               []fixtureStaff       `json:"staff"`
	Appointments        []fixtureAppointment `json:"appointments"`
}

type fixtureService struct {
	ID              string `json:"id"`
	DurationMinutes int    `json:"duration_minutes"`
	BufferMinutes   int    `json:"buffer_minutes"`
}

type fixtureStaff struct {
	ID         string   `json:"id"`
	ServiceIDs []string `json:"service_ids"`
	// Hours is keyed by weekday, "0" for Sunday. Missing weekdays have no rule.
	Hours map[string]fixtureHours `json:"hours"`
}

type fixtureHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Off   bool   `json:"off"`
}

type fixtureAppointment struct {
	ID              string `json:"id"`
	StaffID         string `json:"staff_id"`
	ServiceID       string `json:"service_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes *int   `json:"duration_minutes"`
	BufferMinutes   *int   `json:"buffer_minutes"`
	Status          string `json:"status"`
}

func loadFixture(path string) (*fixture, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var fx fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if fx.SlotIntervalMinutes == 0 {
		fx.SlotIntervalMinutes = availability.DefaultSlotInterval
	}
	return &fx, nil
}

func (fx *fixture) catalog() availability.ServiceCatalog {
	c := availability.ServiceCatalog{}
	for _, s := range fx.Services {
		c[s.ID] = availability.ServiceDefinition{DurationMinutes: s.DurationMinutes, BufferMinutes: s.BufferMinutes}
	}
	return c
}

func (fx *fixture) staff(id string) (fixtureStaff, bool) {
	for _, s := range fx.Staff {
		if s.ID == id {
			return s, true
		}
	}
	return fixtureStaff{}, false
}

func (fx *fixture) rule(staffID string, weekday int) (*availability.WorkingHoursRule, error) {
	st, ok := fx.staff(staffID)
	if !ok {
		return nil, fmt.Errorf("unknown staff %q", staffID)
	}
	h, ok := st.Hours[strconv.Itoa(weekday)]
	if !ok {
		return nil, nil
	}
	if h.Off {
		return &availability.WorkingHoursRule{StaffID: staffID, Weekday: weekday}, nil
	}
	start, err := availability.ParseClock(h.Start)
	if err != nil {
		return nil, fmt.Errorf("staff %s weekday %d: %w", staffID, weekday, err)
	}
	end, err := availability.ParseClock(h.End)
	if err != nil {
		return nil, fmt.Errorf("staff %s weekday %d: %w", staffID, weekday, err)
	}
	return &availability.WorkingHoursRule{StaffID: staffID, Weekday: weekday, Start: start, End: end, IsWorking: true}, nil
}

func (fx *fixture) bookings() ([]availability.Booking, error) {
	out := make([]availability.Booking, 0, len(fx.Appointments))
	for _, a := range fx.Appointments {
		start, err := availability.ParseClock(a.StartTime)
		if err != nil {
			return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
		}
		status, ok := model.ParseStatus(a.Status)
		if !ok {
			return nil, fmt.Errorf("appointment %s: unknown status %q", a.ID, a.Status)
		}
		out = append(out, availability.Booking{
			ID:              a.ID,
			StaffID:         a.StaffID,
			ServiceID:       a.ServiceID,
			Date:            a.Date,
			Start:           start,
			DurationMinutes: a.DurationMinutes,
			BufferMinutes:   a.BufferMinutes,
			Status:          status,
		})
	}
	return out, nil
}

// serviceDuration falls back to the engine default for unknown services.
func (fx *fixture) serviceDuration(serviceID string) int {
	if d, ok := fx.catalog()[serviceID]; ok && d.DurationMinutes > 0 {
		return d.DurationMinutes
	}
	return availability.DefaultDurationMinutes
}

func (fx *fixture) staffDay(staffID, serviceID, date string) ([]availability.TimeSlot, error) {
	weekday, err := availability.Weekday(date)
	if err != nil {
		return nil, err
	}
	rule, err := fx.rule(staffID, weekday)
	if err != nil {
		return nil, err
	}
	bookings, err := fx.bookings()
	if err != nil {
		return nil, err
	}
	return availability.StaffDaySlots(availability.StaffDay{
		StaffID:         staffID,
		Date:            date,
		Rule:            rule,
		IntervalMinutes: fx.SlotIntervalMinutes,
		DurationMinutes: fx.serviceDuration(serviceID),
		Bookings:        bookings,
		Catalog:         fx.catalog(),
	})
}

// slots computes the grid for one staff member or, with "any", the union over
// every staff member performing serviceID.
func (fx *fixture) slots(ctx context.Context, staffID, serviceID, date string) ([]availability.TimeSlot, map[availability.Clock][]string, error) {
	if staffID != availability.AnyProfessional {
		slots, err := fx.staffDay(staffID, serviceID, date)
		return slots, nil, err
	}

	var eligible []string
	for _, st := range fx.Staff {
		if contains(st.ServiceIDs, serviceID) {
			eligible = append(eligible, st.ID)
		}
	}
	res := availability.Aggregate(ctx, eligible, func(_ context.Context, id string) ([]availability.TimeSlot, error) {
		return fx.staffDay(id, serviceID, date)
	}, 4)
	for _, f := range res.Failures {
		return nil, nil, fmt.Errorf("staff %s: %w", f.StaffID, f.Err)
	}
	return res.Slots, res.StaffByTime, nil
}

func (fx *fixture) check(staffID, date, start string, duration int) (availability.Verdict, error) {
	clock, err := availability.ParseClock(start)
	if err != nil {
		return availability.Verdict{}, err
	}
	weekday, err := availability.Weekday(date)
	if err != nil {
		return availability.Verdict{}, err
	}
	rule, err := fx.rule(staffID, weekday)
	if err != nil {
		return availability.Verdict{}, err
	}
	bookings, err := fx.bookings()
	if err != nil {
		return availability.Verdict{}, err
	}
	return availability.CheckBooking(availability.BookingCheck{
		StaffID:         staffID,
		Date:            date,
		Start:           clock,
		DurationMinutes: duration,
		Rule:            rule,
		Bookings:        bookings,
		Catalog:         fx.catalog(),
	})
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
