package scheduling

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// BookedInterval is an active appointment on the date-local axis of its
// service date. Minutes at or past MinutesPerDay fall after midnight.
type BookedInterval struct {
	AppointmentID uuid.UUID
	Date          civil.Date
	StartMinute   int
	EndMinute     int
}

// Overlaps reports whether [start, end) intersects the booked interval.
// Intervals that merely touch do not overlap.
func (b BookedInterval) Overlaps(start, end int) bool {
	return start < b.EndMinute && end > b.StartMinute
}

// OnDate re-expresses the interval on date's axis. A booking filed under the
// previous date at 01:00 (minute 1500) sits at minute 60 of date.
func (b BookedInterval) OnDate(date civil.Date) BookedInterval {
	shift := b.Date.DaysSince(date) * MinutesPerDay
	return BookedInterval{
		AppointmentID: b.AppointmentID,
		Date:          date,
		StartMinute:   b.StartMinute + shift,
		EndMinute:     b.EndMinute + shift,
	}
}

// Neighbourhood projects bookings filed under date and the dates either side
// onto date's axis and keeps those that reach into [0, 2880), the only range
// a slot on date can occupy. The result is ordered by start.
func Neighbourhood(date civil.Date, booked []BookedInterval) []BookedInterval {
	var out []BookedInterval
	for _, b := range booked {
		p := b.OnDate(date)
		if p.EndMinute > 0 && p.StartMinute < extendedDayEnd {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out
}

// FirstConflict returns the first booked interval that overlaps [start, end).
func FirstConflict(start, end int, booked []BookedInterval) (BookedInterval, bool) {
	for _, b := range booked {
		if b.Overlaps(start, end) {
			return b, true
		}
	}
	return BookedInterval{}, false
}

// ProjectToDate converts an absolute timestamp into minutes on date's local
// axis in loc. Wall-clock fields are used so a DST transition never moves a
// booking relative to the working-hour windows.
func ProjectToDate(date civil.Date, loc *time.Location, t time.Time) int {
	local := t.In(loc)
	days := civil.DateOf(local).DaysSince(date)
	return days*MinutesPerDay + local.Hour()*60 + local.Minute()
}

// WallClock returns the instant at the given date-local minute in loc.
// time.Date normalises minutes past midnight into the following day.
func WallClock(date civil.Date, loc *time.Location, minute int) time.Time {
	return time.Date(date.Year, date.Month, date.Day, 0, minute, 0, 0, loc)
}
