package availability

import (
	"errors"
	"fmt"
)

var ErrInvalidBooking = errors.New("invalid booking check")

type Reason string

const (
	ReasonNone         Reason = ""
	ReasonNoSchedule   Reason = "no_schedule"
	ReasonOffDuty      Reason = "off_duty"
	ReasonSlotConflict Reason = "slot_conflict"
)

// BookingCheck describes a concrete create or reschedule attempt for one staff member.
type BookingCheck struct {
	StaffID         string
	Date            string
	Start           Clock
	DurationMinutes int
	// Rule is the staff's working-hours rule for the date's weekday, nil if none exists.
	Rule     *WorkingHoursRule
	Bookings []Booking
	Catalog  ServiceCatalog
	// ExcludeID skips the appointment being rescheduled.
	ExcludeID string
}

// Verdict is the outcome of a booking check. A zero Reason means the booking may proceed.
type Verdict struct {
	Reason        Reason
	ConflictID    string
	ConflictStart Clock
}

func (v Verdict) OK() bool {
	return v.Reason == ReasonNone
}

func (v Verdict) Message() string {
	switch v.Reason {
	case ReasonNone:
		return "ok"
	case ReasonNoSchedule:
		return "staff has no working hours on this day"
	case ReasonOffDuty:
		return "staff off duty on this day"
	case ReasonSlotConflict:
		return fmt.Sprintf("time slot conflicts with an existing booking at %s", v.ConflictStart)
	default:
		return string(v.Reason)
	}
}

// CheckBooking re-validates a booking attempt against the current appointment list.
// Business rejections come back in the Verdict; the error is reserved for malformed input.
//
// The check is advisory on its own: two callers can both pass it before either writes.
// Callers that persist the booking must run it under the storage layer's per staff/day lock.
func CheckBooking(c BookingCheck) (Verdict, error) {
	weekday, err := Weekday(c.Date)
	if err != nil {
		return Verdict{}, err
	}
	if c.DurationMinutes <= 0 {
		return Verdict{}, fmt.Errorf("%w: duration must be positive", ErrInvalidBooking)
	}
	if c.Start < Midnight || c.Start >= EndOfDay {
		return Verdict{}, fmt.Errorf("%w: start %s out of range", ErrInvalidBooking, c.Start)
	}
	if c.Rule != nil && c.Rule.Weekday != weekday {
		return Verdict{}, fmt.Errorf("%w: rule for weekday %d used on weekday %d", ErrInvalidBooking, c.Rule.Weekday, weekday)
	}

	if c.Rule == nil {
		return Verdict{Reason: ReasonNoSchedule}, nil
	}
	if !c.Rule.IsWorking {
		return Verdict{Reason: ReasonOffDuty}, nil
	}

	candidate := Interval{Start: c.Start, End: c.Start.Add(c.DurationMinutes)}
	for _, b := range occupiedBy(c.Bookings, c.StaffID, c.Date, c.Catalog, c.ExcludeID) {
		if Overlaps(candidate, b.Interval) {
			return Verdict{Reason: ReasonSlotConflict, ConflictID: b.bookingID, ConflictStart: b.Start}, nil
		}
	}
	return Verdict{}, nil
}
