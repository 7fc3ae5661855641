package model

import "time"

type Appointment struct {
	ID             string
	OrganizationID string
	StaffID        string
	ServiceID      string
	ClientName     string
	ClientEmail    string
	ClientPhone    string
	// Date is the organization-local calendar date (YYYY-MM-DD).
	Date string
	// StartMinute is minutes since local midnight.
	StartMinute int
	// DurationMinutes and BufferMinutes are nil on rows that never recorded them;
	// readers fall back to the service definition.
	DurationMinutes *int
	BufferMinutes   *int
	Status          Status
	Notes           string
	CancelledAt     *time.Time
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Organization struct {
	ID                  string
	Name                string
	Timezone            string
	SlotIntervalMinutes int

	// ReminderOffsetsMinutes are how long before an appointment reminders go out.
	ReminderOffsetsMinutes []int
}

type Service struct {
	ID              string
	OrganizationID  string
	Name            string
	DurationMinutes int
	BufferMinutes   int
	Price           string
	IsActive        bool
	CreatedAt       time.Time
}

type Staff struct {
	ID             string
	OrganizationID string
	Name           string
	IsActive       bool
	// ServiceIDs are the services this staff member can perform.
	ServiceIDs []string
	CreatedAt  time.Time
}

type WorkingHours struct {
	StaffID     string
	Weekday     int
	IsWorking   bool
	StartMinute int
	EndMinute   int
}
