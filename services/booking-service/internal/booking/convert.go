package booking

import (
	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/model"
)

func ruleFromModel(wh *model.WorkingHours) *availability.WorkingHoursRule {
	if wh == nil {
		return nil
	}
	return &availability.WorkingHoursRule{
		StaffID:   wh.StaffID,
		Weekday:   wh.Weekday,
		Start:     availability.Clock(wh.StartMinute),
		End:       availability.Clock(wh.EndMinute),
		IsWorking: wh.IsWorking,
	}
}

func bookingsFromModel(appts []model.Appointment) []availability.Booking {
	out := make([]availability.Booking, 0, len(appts))
	for _, a := range appts {
		out = append(out, availability.Booking{
			ID:              a.ID,
			StaffID:         a.StaffID,
			ServiceID:       a.ServiceID,
			Date:            a.Date,
			Start:           availability.Clock(a.StartMinute),
			DurationMinutes: a.DurationMinutes,
			BufferMinutes:   a.BufferMinutes,
			Status:          a.Status,
		})
	}
	return out
}

func catalogFromServices(services []model.Service) availability.ServiceCatalog {
	catalog := make(availability.ServiceCatalog, len(services))
	for _, s := range services {
		catalog[s.ID] = availability.ServiceDefinition{
			DurationMinutes: s.DurationMinutes,
			BufferMinutes:   s.BufferMinutes,
		}
	}
	return catalog
}
