package scheduling

import (
	"time"

	"cloud.google.com/go/civil"
)

// Now is the current moment expressed in clinic-local terms: the local date
// and the first whole minute at or after the instant. A request made at
// 10:07:30 sees Minute 608, so 10:07 is never offered.
type Now struct {
	Date   civil.Date
	Minute int
}

// NowIn converts t into clinic-local terms.
func NowIn(t time.Time, loc *time.Location) Now {
	local := t.In(loc)
	n := Now{
		Date:   civil.DateOf(local),
		Minute: local.Hour()*60 + local.Minute(),
	}
	if local.Second() > 0 || local.Nanosecond() > 0 {
		n.Minute++
	}
	if n.Minute >= MinutesPerDay {
		n.Date = n.Date.AddDays(1)
		n.Minute -= MinutesPerDay
	}
	return n
}

// Before reports whether the date-local minute on date lies before now.
// Minutes past midnight are carried into the following date first.
func (n Now) Before(date civil.Date, minute int) bool {
	date = date.AddDays(minute / MinutesPerDay)
	minute %= MinutesPerDay
	if date.Before(n.Date) {
		return true
	}
	if date.After(n.Date) {
		return false
	}
	return minute < n.Minute
}
