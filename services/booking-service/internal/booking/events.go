package booking

import (
	"context"
	"time"

	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/model"
	"github.com/agendaly/agendaly/services/booking-service/internal/outbox"
)

func payloadOf(appt model.Appointment, now time.Time) outbox.AppointmentPayload {
	p := outbox.AppointmentPayload{
		AppointmentID:  appt.ID,
		OrganizationID: appt.OrganizationID,
		StaffID:        appt.StaffID,
		ServiceID:      appt.ServiceID,
		Date:           appt.Date,
		StartTime:      availability.Clock(appt.StartMinute).String(),
		Status:         string(appt.Status),
		OccurredAt:     now.UTC(),
	}
	if appt.DurationMinutes != nil {
		p.Duration = *appt.DurationMinutes
	}
	return p
}

func (s *Service) insert(ctx context.Context, tx Tx, eventType, aggregateID string, payload any) error {
	evt, err := outbox.NewEvent(eventType, aggregateID, payload)
	if err != nil {
		return err
	}
	return tx.InsertEvent(ctx, evt)
}

func (s *Service) emitBooked(ctx context.Context, tx Tx, org model.Organization, appt model.Appointment) error {
	if err := s.insert(ctx, tx, outbox.EventAppointmentBooked, appt.ID, payloadOf(appt, s.now())); err != nil {
		return err
	}
	return s.emitReminders(ctx, tx, org, appt)
}

func (s *Service) emitRescheduled(ctx context.Context, tx Tx, org model.Organization, previous, appt model.Appointment) error {
	p := payloadOf(appt, s.now())
	p.PreviousDate = previous.Date
	p.PreviousStart = availability.Clock(previous.StartMinute).String()
	if err := s.insert(ctx, tx, outbox.EventAppointmentRescheduled, appt.ID, p); err != nil {
		return err
	}
	return s.emitReminders(ctx, tx, org, appt)
}

func (s *Service) emitStatus(ctx context.Context, tx Tx, org model.Organization, appt model.Appointment, from model.Status) error {
	eventType := outbox.EventAppointmentStatusChanged
	if appt.Status == model.StatusCancelled {
		eventType = outbox.EventAppointmentCancelled
	}
	p := payloadOf(appt, s.now())
	p.PreviousStatus = string(from)
	p.Reason = appt.CancelReason
	return s.insert(ctx, tx, eventType, appt.ID, p)
}

// emitReminders requests one reminder per configured offset that is still in the future.
func (s *Service) emitReminders(ctx context.Context, tx Tx, org model.Organization, appt model.Appointment) error {
	if appt.Status == model.StatusBlocked {
		return nil
	}
	if appt.ClientEmail == "" && appt.ClientPhone == "" {
		return nil
	}
	startsAt, err := startTime(appt, s.location(org))
	if err != nil {
		return err
	}
	offsets := org.ReminderOffsetsMinutes
	if len(offsets) == 0 {
		offsets = s.reminders
	}
	now := s.now()
	for _, offset := range offsets {
		remindAt := startsAt.Add(-time.Duration(offset) * time.Minute)
		if !remindAt.After(now) {
			continue
		}
		if err := s.insert(ctx, tx, outbox.EventReminderRequested, appt.ID, outbox.ReminderPayload{
			AppointmentID:  appt.ID,
			OrganizationID: appt.OrganizationID,
			ClientEmail:    appt.ClientEmail,
			ClientPhone:    appt.ClientPhone,
			StartsAt:       startsAt.UTC(),
			RemindAt:       remindAt.UTC(),
			OffsetMinutes:  offset,
		}); err != nil {
			return err
		}
	}
	return nil
}

// startTime resolves the appointment's wall-clock start in loc.
func startTime(appt model.Appointment, loc *time.Location) (time.Time, error) {
	d, err := availability.ParseDate(appt.Date)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, appt.StartMinute, 0, 0, loc), nil
}
