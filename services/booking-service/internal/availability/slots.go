package availability

import (
	"errors"
	"fmt"
)

// DefaultSlotInterval is the organization stride between candidate start times when none is configured.
const DefaultSlotInterval = 30

var ErrInvalidWorkingHours = errors.New("working hours end before they start")

// WorkingHoursRule is one staff member's schedule for one weekday (0 = Sunday).
type WorkingHoursRule struct {
	StaffID   string
	Weekday   int
	Start     Clock
	End       Clock
	IsWorking bool
}

type TimeSlot struct {
	Time      Clock
	Available bool
}

// GenerateSlots lays out candidate start times from the rule's opening time in steps of
// interval minutes. The loop runs while the start is before closing, so the last slot may
// end after closing time. A missing or non-working rule yields no slots and no error.
func GenerateSlots(rule *WorkingHoursRule, interval int) ([]TimeSlot, error) {
	if rule == nil || !rule.IsWorking {
		return []TimeSlot{}, nil
	}
	if rule.End <= rule.Start {
		return nil, fmt.Errorf("%w: staff %s weekday %d (%s-%s)", ErrInvalidWorkingHours, rule.StaffID, rule.Weekday, rule.Start, rule.End)
	}
	if interval <= 0 {
		interval = DefaultSlotInterval
	}

	slots := make([]TimeSlot, 0, int(rule.End-rule.Start)/interval+1)
	for t := rule.Start; t < rule.End; t = t.Add(interval) {
		slots = append(slots, TimeSlot{Time: t, Available: true})
	}
	return slots, nil
}

// MaskBefore marks every slot that starts before cutoff as unavailable.
func MaskBefore(slots []TimeSlot, cutoff Clock) []TimeSlot {
	for i := range slots {
		if slots[i].Time < cutoff {
			slots[i].Available = false
		}
	}
	return slots
}

// AvailableTimes returns the start times of the bookable slots in order.
func AvailableTimes(slots []TimeSlot) []Clock {
	var out []Clock
	for _, s := range slots {
		if s.Available {
			out = append(out, s.Time)
		}
	}
	return out
}
