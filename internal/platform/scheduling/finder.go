package scheduling

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// Mode selects how a booking is identified: by clock time or by a serial
// number in the doctor's queue for the day.
type Mode int

const (
	TimeBased Mode = iota
	NumberBased
)

func (m Mode) String() string {
	switch m {
	case NumberBased:
		return "number"
	default:
		return "time"
	}
}

// ParseMode accepts "time" and "number"; the empty string means time.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "time", "time_based":
		return TimeBased, nil
	case "number", "number_based", "queue":
		return NumberBased, nil
	}
	return TimeBased, fmt.Errorf("unknown booking mode %q", s)
}

// SlotRequest asks for the next free slot for a doctor on a date.
type SlotRequest struct {
	DoctorID        uuid.UUID
	Date            civil.Date
	DurationMinutes int
	Mode            Mode
}

// SlotProposal is a free slot on the date-local axis of Date.
type SlotProposal struct {
	Date               civil.Date
	StartMinute        int
	EndMinute          int
	IsAutoAdvancedDate bool
}

// EndsNextDay reports whether the slot finishes after midnight.
func (p SlotProposal) EndsNextDay() bool {
	return p.EndMinute > MinutesPerDay
}

// StartClock and EndClock render the wall-clock bounds.
func (p SlotProposal) StartClock() string { return FormatClock(p.StartMinute) }
func (p SlotProposal) EndClock() string   { return FormatClock(p.EndMinute) }

// ExhaustionReason says why a date yielded no slot.
type ExhaustionReason int

const (
	// ExhaustedFullyBooked means time remains in the day but every
	// candidate collides with a booking. Searching later dates is the
	// caller's choice.
	ExhaustedFullyBooked ExhaustionReason = iota + 1
	// ExhaustedDayOver means no window on the date has room for the
	// duration any more: the date is past, the doctor is off, or the
	// remaining time is too short.
	ExhaustedDayOver
)

func (r ExhaustionReason) String() string {
	switch r {
	case ExhaustedFullyBooked:
		return "fully_booked"
	case ExhaustedDayOver:
		return "day_over"
	}
	return "unknown"
}

// Exhaustion is the typed "no slot" outcome of FindSlot.
type Exhaustion struct {
	Date   civil.Date
	Reason ExhaustionReason
}

func (e *Exhaustion) Error() string {
	return fmt.Sprintf("no slot on %s: %s", e.Date, e.Reason)
}

// FindSlot walks windows in order and returns the first candidate of the
// requested duration that is not in the past and does not overlap a booking.
// Candidates are aligned to the window start in steps of the duration; on
// the current date the walk starts at now rounded up to the next multiple of
// the duration. Exactly one of the results is meaningful: a nil Exhaustion
// means the proposal is valid.
func FindSlot(req SlotRequest, windows []TimeWindow, booked []BookedInterval, now Now) (SlotProposal, *Exhaustion) {
	d := req.DurationMinutes
	feasible := false

	for _, w := range windows {
		first, ok := FirstFeasibleStart(w, req.Date, d, now)
		if !ok {
			continue
		}
		feasible = true

		for c := first; w.Fits(c, d); c += d {
			if now.Before(req.Date, c) {
				continue
			}
			if _, clash := FirstConflict(c, c+d, booked); clash {
				continue
			}
			return SlotProposal{Date: req.Date, StartMinute: c, EndMinute: c + d}, nil
		}
	}

	reason := ExhaustedDayOver
	if feasible {
		reason = ExhaustedFullyBooked
	}
	return SlotProposal{}, &Exhaustion{Date: req.Date, Reason: reason}
}

// FirstFeasibleStart returns the earliest candidate in w for date that is
// not before now and leaves room for the whole duration, ignoring bookings.
// On the day after date, now is read past midnight so the tail of an
// overnight window stays bookable.
func FirstFeasibleStart(w TimeWindow, date civil.Date, duration int, now Now) (int, bool) {
	if duration <= 0 {
		return 0, false
	}
	cutoff := -1
	switch {
	case date == now.Date:
		cutoff = now.Minute
	case date.AddDays(1) == now.Date:
		cutoff = now.Minute + MinutesPerDay
	case date.Before(now.Date):
		return 0, false
	}
	start := w.StartMinute
	if cutoff > start {
		start = roundUp(cutoff, duration)
		if start < w.StartMinute {
			start = w.StartMinute
		}
	}
	if !w.Fits(start, duration) {
		return 0, false
	}
	return start, true
}

func roundUp(minute, step int) int {
	return ((minute + step - 1) / step) * step
}
