package scheduling

import (
	"fmt"

	"cloud.google.com/go/civil"
)

// Placement is a checked slot on the date-local axis.
type Placement struct {
	Window      TimeWindow
	StartMinute int
	EndMinute   int
}

// PlaceInWindows finds the first window that can hold a slot starting at the
// given wall-clock minute.
func PlaceInWindows(windows []TimeWindow, start, duration int) (Placement, error) {
	for _, w := range windows {
		if c, ok := w.Place(start, duration); ok {
			return Placement{Window: w, StartMinute: c, EndMinute: c + duration}, nil
		}
	}
	return Placement{}, fmt.Errorf("%w: %s for %d minutes", ErrOutsideWorkingHours, FormatClock(start), duration)
}

// CheckSlot validates a user-chosen slot: it must lie in a working window,
// must not start before now and must not overlap any booking. The returned
// placement carries the extended start so overnight picks are stored on the
// right side of midnight.
func CheckSlot(windows []TimeWindow, booked []BookedInterval, date civil.Date, start, duration int, now Now) (Placement, error) {
	p, err := PlaceInWindows(windows, start, duration)
	if err != nil {
		return Placement{}, err
	}
	if now.Before(date, p.StartMinute) {
		return Placement{}, fmt.Errorf("%w: %s %s", ErrSlotInPast, date, FormatClock(p.StartMinute))
	}
	if b, clash := FirstConflict(p.StartMinute, p.EndMinute, booked); clash {
		return Placement{}, &ConflictError{
			Date:        date,
			StartMinute: p.StartMinute,
			EndMinute:   p.EndMinute,
			With:        b,
		}
	}
	return p, nil
}
