package booking

import (
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/ehr/apptsched/internal/platform/scheduling"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrCalendarUnavailable = errors.New("working-hours calendar unavailable")
	ErrNoWorkingHours      = errors.New("doctor has no working-hours profile")
	ErrInvalidDate         = errors.New("invalid date")
	ErrInvalidDoctor       = errors.New("doctor_id is required")
	ErrQueueClosed         = errors.New("queue for this date is closed")
)

type Status string

const (
	StatusBooked    Status = "booked"
	StatusCancelled Status = "cancelled"
)

// Appointment is a committed booking. Minutes are on the date-local axis of
// Date, so an appointment inside an overnight window may start at or after
// minute 1440.
type Appointment struct {
	ID          uuid.UUID  `json:"id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	Date        civil.Date `json:"date"`
	StartMinute int        `json:"start_minute"`
	EndMinute   int        `json:"end_minute"`
	Status      Status     `json:"status"`
	PayloadRef  string     `json:"payload_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

func (a *Appointment) Active() bool { return a.Status == StatusBooked }

// Interval returns the appointment as a conflict-check input.
func (a *Appointment) Interval() scheduling.BookedInterval {
	return scheduling.BookedInterval{
		AppointmentID: a.ID,
		Date:          a.Date,
		StartMinute:   a.StartMinute,
		EndMinute:     a.EndMinute,
	}
}

// WeeklyHours is a doctor's default schedule keyed by weekday.
type WeeklyHours map[time.Weekday][]scheduling.TimeWindow

// For returns the windows for the weekday of date, ordered by start.
func (w WeeklyHours) For(date civil.Date) []scheduling.TimeWindow {
	return scheduling.SortWindows(w[Weekday(date)])
}

// DayOverride replaces the weekly default for a single date. No windows
// means the doctor is off that day.
type DayOverride struct {
	DoctorID uuid.UUID               `json:"doctor_id"`
	Date     civil.Date              `json:"date"`
	Windows  []scheduling.TimeWindow `json:"windows"`
	Reason   string                  `json:"reason,omitempty"`
}

// CommitRequest books [StartMinute, StartMinute+DurationMinutes) for a doctor.
// StartMinute is a wall-clock minute; overnight placement is resolved against
// the doctor's windows.
type CommitRequest struct {
	DoctorID        uuid.UUID
	Date            civil.Date
	StartMinute     int
	DurationMinutes int
	PayloadRef      string
}

// FindResult is the outcome of FindNextSlot. Exactly one of Proposal and
// Exhaustion is set. QueueSerial is the number the next queue booking would
// receive and is only filled in number-based mode.
type FindResult struct {
	Mode         scheduling.Mode
	Proposal     *scheduling.SlotProposal
	Exhaustion   *scheduling.Exhaustion
	QueueSerial  int
	DaysSearched int
}

// Weekday returns the day of week for a calendar date.
func Weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}
