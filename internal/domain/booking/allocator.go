package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/apptsched/internal/platform/scheduling"
)

// Allocator commits bookings. The read of the booked set, the conflict check
// and the insert happen inside one WithinDay call, so two commits for the
// same doctor and date are serialised and the loser sees the winner's row.
type Allocator struct {
	ledger Ledger
	loc    *time.Location
	now    func() time.Time
	newID  func() uuid.UUID
}

func NewAllocator(ledger Ledger, loc *time.Location, now func() time.Time) *Allocator {
	if now == nil {
		now = time.Now
	}
	return &Allocator{ledger: ledger, loc: loc, now: now, newID: uuid.New}
}

// Commit books req against windows. It returns a *scheduling.ConflictError
// when another booking holds any part of the slot.
func (a *Allocator) Commit(ctx context.Context, req CommitRequest, windows []scheduling.TimeWindow) (*Appointment, error) {
	var appt *Appointment
	err := a.ledger.WithinDay(ctx, req.DoctorID, req.Date, func(day DayLedger) error {
		booked, err := day.Booked(ctx)
		if err != nil {
			return err
		}
		now := a.now()
		p, err := scheduling.CheckSlot(windows, booked, req.Date, req.StartMinute, req.DurationMinutes, scheduling.NowIn(now, a.loc))
		if err != nil {
			return err
		}
		candidate := &Appointment{
			ID:          a.newID(),
			DoctorID:    req.DoctorID,
			Date:        req.Date,
			StartMinute: p.StartMinute,
			EndMinute:   p.EndMinute,
			Status:      StatusBooked,
			PayloadRef:  req.PayloadRef,
			CreatedAt:   now.UTC(),
		}
		if err := day.Insert(ctx, candidate); err != nil {
			return err
		}
		appt = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}
