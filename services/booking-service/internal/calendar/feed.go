package calendar

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/booking"
	"github.com/agendaly/agendaly/services/booking-service/internal/model"
)

const productID = "-//agendaly//booking-service//EN"

// Render builds an iCalendar feed of the staff member's occupying appointments.
// Times are emitted in UTC after resolving the wall-clock start in loc.
func Render(cal booking.StaffCalendar, loc *time.Location, now time.Time) (string, error) {
	out := ics.NewCalendar()
	out.SetMethod(ics.MethodPublish)
	out.SetProductId(productID)
	out.SetXWRCalName(calendarName(cal))
	out.SetXWRTimezone(loc.String())

	for _, appt := range cal.Appointments {
		start, end, err := span(appt, cal.Services, loc)
		if err != nil {
			return "", fmt.Errorf("appointment %s: %w", appt.ID, err)
		}
		evt := out.AddEvent(appt.ID + "@agendaly")
		evt.SetDtStampTime(now.UTC())
		evt.SetCreatedTime(appt.CreatedAt.UTC())
		evt.SetModifiedAt(appt.UpdatedAt.UTC())
		evt.SetStartAt(start.UTC())
		evt.SetEndAt(end.UTC())
		evt.SetSummary(summary(appt, cal.Services))
		if appt.Notes != "" {
			evt.SetDescription(appt.Notes)
		}
		evt.SetStatus(eventStatus(appt.Status))
	}
	return out.Serialize(), nil
}

func calendarName(cal booking.StaffCalendar) string {
	if cal.Organization.Name == "" {
		return cal.Staff.Name
	}
	return cal.Staff.Name + " - " + cal.Organization.Name
}

// span resolves the appointment's start and end. The buffer is not part of the event.
func span(appt model.Appointment, services map[string]model.Service, loc *time.Location) (time.Time, time.Time, error) {
	d, err := availability.ParseDate(appt.Date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	catalog := availability.ServiceCatalog{}
	if svc, ok := services[appt.ServiceID]; ok {
		catalog[svc.ID] = availability.ServiceDefinition{DurationMinutes: svc.DurationMinutes, BufferMinutes: svc.BufferMinutes}
	}
	duration, _ := availability.Footprint(availability.Booking{
		ServiceID:       appt.ServiceID,
		DurationMinutes: appt.DurationMinutes,
		BufferMinutes:   appt.BufferMinutes,
	}, catalog)

	start := time.Date(d.Year(), d.Month(), d.Day(), 0, appt.StartMinute, 0, 0, loc)
	return start, start.Add(time.Duration(duration) * time.Minute), nil
}

func summary(appt model.Appointment, services map[string]model.Service) string {
	if appt.Status == model.StatusBlocked {
		if appt.Notes != "" {
			return "Blocked: " + appt.Notes
		}
		return "Blocked"
	}
	name := "Appointment"
	if svc, ok := services[appt.ServiceID]; ok {
		name = svc.Name
	}
	if appt.ClientName != "" {
		return name + " - " + appt.ClientName
	}
	return name
}

func eventStatus(st model.Status) ics.ObjectStatus {
	if st == model.StatusPending {
		return ics.ObjectStatusTentative
	}
	return ics.ObjectStatusConfirmed
}
