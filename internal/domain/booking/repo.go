package booking

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/ehr/apptsched/internal/platform/scheduling"
)

// Ledger stores appointments. All writes for one (doctor, date) go through
// WithinDay, which runs fn while holding the exclusive locks of that date and
// the one before it. An overnight booking can reach into the next morning, so
// adjacent dates of one doctor share a lock; other doctors, and dates two or
// more days apart, never wait on each other.
//
// Booked, on the ledger and on a DayLedger, returns the bookings of the date
// and of the dates either side, projected onto the date's axis.
type Ledger interface {
	WithinDay(ctx context.Context, doctorID uuid.UUID, date civil.Date, fn func(DayLedger) error) error
	Booked(ctx context.Context, doctorID uuid.UUID, date civil.Date) ([]scheduling.BookedInterval, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, error)
	ListDay(ctx context.Context, doctorID uuid.UUID, date civil.Date, limit, offset int) ([]*Appointment, int, error)
}

// DayLedger is the view of one locked (doctor, date) handed to WithinDay.
type DayLedger interface {
	Booked(ctx context.Context) ([]scheduling.BookedInterval, error)
	Insert(ctx context.Context, a *Appointment) error
}

// SerialStore hands out queue numbers per (doctor, date).
type SerialStore interface {
	Next(ctx context.Context, doctorID uuid.UUID, date civil.Date) (int, error)
	Peek(ctx context.Context, doctorID uuid.UUID, date civil.Date) (int, error)
}

// DefaultHoursSource returns a doctor's weekly schedule, or ErrNoWorkingHours
// when the doctor has none on file.
type DefaultHoursSource interface {
	WeeklyHours(ctx context.Context, doctorID uuid.UUID) (WeeklyHours, error)
}

// OverrideSource returns the override for a date, or nil when there is none.
type OverrideSource interface {
	Override(ctx context.Context, doctorID uuid.UUID, date civil.Date) (*DayOverride, error)
}

type HoursRepository interface {
	DefaultHoursSource
	OverrideSource
	ReplaceWeekly(ctx context.Context, doctorID uuid.UUID, hours WeeklyHours) error
	SetOverride(ctx context.Context, o *DayOverride) error
	DeleteOverride(ctx context.Context, doctorID uuid.UUID, date civil.Date) error
}
