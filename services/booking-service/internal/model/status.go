package model

import "strings"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusCancelled  Status = "CANCELLED"
	StatusCompleted  Status = "COMPLETED"
	StatusArchived   Status = "ARCHIVED"
	StatusArrived    Status = "ARRIVED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusNoShow     Status = "NO_SHOW"
	StatusBlocked    Status = "BLOCKED"
)

var allStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusCancelled,
	StatusCompleted,
	StatusArchived,
	StatusArrived,
	StatusInProgress,
	StatusNoShow,
	StatusBlocked,
}

// ParseStatus normalizes case and rejects unknown values.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range allStatuses {
		if st == known {
			return st, true
		}
	}
	return "", false
}

// Occupies reports whether an appointment in this status holds time on the staff calendar.
// Only cancelled and archived appointments release their time.
func (s Status) Occupies() bool {
	return s != StatusCancelled && s != StatusArchived
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusArrived, StatusInProgress, StatusCompleted, StatusNoShow, StatusCancelled},
	StatusArrived:    {StatusInProgress, StatusNoShow, StatusCancelled},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {StatusArchived},
	StatusNoShow:     {StatusArchived},
	StatusCancelled:  {StatusArchived},
	StatusBlocked:    {StatusCancelled},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
