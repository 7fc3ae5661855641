package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

const AggregateAppointment = "appointment"

const (
	EventAppointmentBooked        = "booking.appointment.booked.v1"
	EventAppointmentRescheduled   = "booking.appointment.rescheduled.v1"
	EventAppointmentCancelled     = "booking.appointment.cancelled.v1"
	EventAppointmentStatusChanged = "booking.appointment.status_changed.v1"
	EventReminderRequested        = "booking.reminder.requested.v1"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// AppointmentPayload is the body of every booking.appointment.* event.
type AppointmentPayload struct {
	AppointmentID  string    `json:"appointment_id"`
	OrganizationID string    `json:"organization_id"`
	StaffID        string    `json:"staff_id"`
	ServiceID      string    `json:"service_id,omitempty"`
	Date           string    `json:"date"`
	StartTime      string    `json:"start_time"`
	Duration       int       `json:"duration_minutes"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	PreviousDate   string    `json:"previous_date,omitempty"`
	PreviousStart  string    `json:"previous_start_time,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// ReminderPayload asks the notification pipeline to remind the client at RemindAt.
type ReminderPayload struct {
	AppointmentID  string    `json:"appointment_id"`
	OrganizationID string    `json:"organization_id"`
	ClientEmail    string    `json:"client_email,omitempty"`
	ClientPhone    string    `json:"client_phone,omitempty"`
	StartsAt       time.Time `json:"starts_at"`
	RemindAt       time.Time `json:"remind_at"`
	OffsetMinutes  int       `json:"offset_minutes"`
}

func NewEvent(eventType, aggregateID string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return Event{
		AggregateType: AggregateAppointment,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
