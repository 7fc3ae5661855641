package booking

import (
	"errors"
	"fmt"

	"github.com/agendaly/agendaly/services/booking-service/internal/availability"
	"github.com/agendaly/agendaly/services/booking-service/internal/storage"
)

var (
	ErrNotFound          = storage.ErrNotFound
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoStaffAvailable  = errors.New("no staff available at the requested time")
	ErrInPast            = errors.New("requested time is in the past")
)

// RejectedError is a business rejection from the conflict guard.
type RejectedError struct {
	Verdict availability.Verdict
}

func (e *RejectedError) Error() string {
	return e.Verdict.Message()
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// asInvalid folds engine parse errors into ErrInvalidInput so callers map them to 400.
func asInvalid(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, availability.ErrInvalidClock) ||
		errors.Is(err, availability.ErrInvalidDate) ||
		errors.Is(err, availability.ErrInvalidBooking) ||
		errors.Is(err, availability.ErrInvalidWorkingHours) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return err
}
