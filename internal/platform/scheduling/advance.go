package scheduling

import "cloud.google.com/go/civil"

// NextSearchDate is the date searched after date exhausts.
func NextSearchDate(date civil.Date) civil.Date {
	return date.AddDays(1)
}

// ShouldAdvance reports whether an exhausted date should roll forward on its
// own. Only a day with no time left does; a fully booked day is reported to
// the caller.
func ShouldAdvance(ex *Exhaustion) bool {
	return ex != nil && ex.Reason == ExhaustedDayOver
}
