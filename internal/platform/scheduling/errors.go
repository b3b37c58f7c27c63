package scheduling

import (
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
)

// Common errors returned by the slot engine.
var (
	ErrInvalidDuration     = errors.New("duration must be a positive number of minutes within the allowed maximum")
	ErrInvalidWindow       = errors.New("window bounds must be minutes in [0, 1440)")
	ErrOutsideWorkingHours = errors.New("slot is outside the doctor's working hours")
	ErrSlotInPast          = errors.New("slot starts before the current time")
	ErrConflict            = errors.New("slot overlaps an existing booking")
	ErrLongerThanWindows   = errors.New("duration is longer than every working window on the date")
)

// ConflictError reports the booked interval a candidate collided with.
// It unwraps to ErrConflict so callers can test with errors.Is. A conflict is
// retryable: the caller may ask for a fresh proposal and try again.
type ConflictError struct {
	Date        civil.Date
	StartMinute int
	EndMinute   int
	With        BookedInterval
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s %s-%s overlaps appointment %s (%s-%s)",
		e.Date, FormatClock(e.StartMinute), FormatClock(e.EndMinute),
		e.With.AppointmentID, FormatClock(e.With.StartMinute), FormatClock(e.With.EndMinute))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ValidateDuration rejects non-positive durations and durations above max.
// A max of zero disables the upper bound.
func ValidateDuration(minutes, max int) error {
	if minutes <= 0 || (max > 0 && minutes > max) {
		return fmt.Errorf("%w: got %d", ErrInvalidDuration, minutes)
	}
	return nil
}
