package availability

import (
	"github.com/agendaly/agendaly/services/booking-service/internal/model"
)

const (
	DefaultDurationMinutes = 60
	DefaultBufferMinutes   = 0
)

// Interval is a half-open time-of-day range [Start, End).
type Interval struct {
	Start Clock
	End   Clock
}

// Overlaps reports whether two half-open intervals share any minute. Touching endpoints do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// Booking is the conflict-relevant view of an existing appointment.
// DurationMinutes and BufferMinutes are nil when the appointment did not record them.
type Booking struct {
	ID              string
	StaffID         string
	ServiceID       string
	Date            string
	Start           Clock
	DurationMinutes *int
	BufferMinutes   *int
	Status          model.Status
}

type ServiceDefinition struct {
	DurationMinutes int
	BufferMinutes   int
}

// ServiceCatalog maps service id to its configured footprint.
type ServiceCatalog map[string]ServiceDefinition

// Footprint resolves how long a booking holds the staff member: the appointment's own
// values first, then its service's, then 60 minutes with no buffer.
func Footprint(b Booking, catalog ServiceCatalog) (duration, buffer int) {
	svc, hasSvc := catalog[b.ServiceID]

	switch {
	case b.DurationMinutes != nil && *b.DurationMinutes > 0:
		duration = *b.DurationMinutes
	case hasSvc && svc.DurationMinutes > 0:
		duration = svc.DurationMinutes
	default:
		duration = DefaultDurationMinutes
	}

	switch {
	case b.BufferMinutes != nil && *b.BufferMinutes >= 0:
		buffer = *b.BufferMinutes
	case hasSvc && svc.BufferMinutes >= 0:
		buffer = svc.BufferMinutes
	default:
		buffer = DefaultBufferMinutes
	}
	return duration, buffer
}

// Occupied is the busy interval of one existing booking, including its trailing buffer.
func Occupied(b Booking, catalog ServiceCatalog) Interval {
	duration, buffer := Footprint(b, catalog)
	return Interval{Start: b.Start, End: b.Start.Add(duration + buffer)}
}

type busyInterval struct {
	Interval
	bookingID string
}

func occupiedBy(bookings []Booking, staffID, date string, catalog ServiceCatalog, excludeID string) []busyInterval {
	out := make([]busyInterval, 0, len(bookings))
	for _, b := range bookings {
		if b.StaffID != staffID || b.Date != date || !b.Status.Occupies() {
			continue
		}
		if excludeID != "" && b.ID == excludeID {
			continue
		}
		out = append(out, busyInterval{Interval: Occupied(b, catalog), bookingID: b.ID})
	}
	return out
}

// OccupiedIntervals returns the busy intervals of staffID on date. Bookings for other staff or
// dates, cancelled or archived bookings, and the booking with id excludeID are ignored.
func OccupiedIntervals(bookings []Booking, staffID, date string, catalog ServiceCatalog, excludeID string) []Interval {
	busy := occupiedBy(bookings, staffID, date, catalog, excludeID)
	out := make([]Interval, 0, len(busy))
	for _, b := range busy {
		out = append(out, b.Interval)
	}
	return out
}

// MarkConflicts flips a slot to unavailable when [slot, slot+duration) overlaps any busy
// interval. The candidate's own buffer is not part of its footprint.
func MarkConflicts(slots []TimeSlot, duration int, busy []Interval) []TimeSlot {
	if duration <= 0 {
		duration = DefaultDurationMinutes
	}
	for i := range slots {
		candidate := Interval{Start: slots[i].Time, End: slots[i].Time.Add(duration)}
		for _, b := range busy {
			if Overlaps(candidate, b) {
				slots[i].Available = false
				break
			}
		}
	}
	return slots
}

// StaffDay is everything needed to compute one staff member's slots for one date.
type StaffDay struct {
	StaffID         string
	Date            string
	Rule            *WorkingHoursRule
	IntervalMinutes int
	DurationMinutes int
	Bookings        []Booking
	Catalog         ServiceCatalog
}

// StaffDaySlots runs the slot generator and the conflict detector for one staff member.
func StaffDaySlots(day StaffDay) ([]TimeSlot, error) {
	slots, err := GenerateSlots(day.Rule, day.IntervalMinutes)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return slots, nil
	}
	busy := OccupiedIntervals(day.Bookings, day.StaffID, day.Date, day.Catalog, "")
	return MarkConflicts(slots, day.DurationMinutes, busy), nil
}
