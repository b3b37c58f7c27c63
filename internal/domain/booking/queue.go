package booking

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// QueueAllocator issues serial numbers for number-based booking. Serials
// start at 1 per (doctor, date) and are never reused; a cancelled booking
// leaves a gap.
//
// A date's queue stays open through the following day, which covers an
// overnight shift that started on it, and closes after that. Stores may drop
// the counter of a closed date.
type QueueAllocator struct {
	store SerialStore
	loc   *time.Location
	now   func() time.Time
}

func NewQueueAllocator(store SerialStore, loc *time.Location, now func() time.Time) *QueueAllocator {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &QueueAllocator{store: store, loc: loc, now: now}
}

func (q *QueueAllocator) Next(ctx context.Context, doctorID uuid.UUID, date civil.Date) (int, error) {
	if err := q.checkOpen(doctorID, date); err != nil {
		return 0, err
	}
	n, err := q.store.Next(ctx, doctorID, date)
	if err != nil {
		return 0, fmt.Errorf("reserve queue serial: %w", err)
	}
	return n, nil
}

// Peek returns the serial the next call to Next would hand out, without
// reserving it.
func (q *QueueAllocator) Peek(ctx context.Context, doctorID uuid.UUID, date civil.Date) (int, error) {
	if err := q.checkOpen(doctorID, date); err != nil {
		return 0, err
	}
	n, err := q.store.Peek(ctx, doctorID, date)
	if err != nil {
		return 0, fmt.Errorf("peek queue serial: %w", err)
	}
	return n, nil
}

func (q *QueueAllocator) checkOpen(doctorID uuid.UUID, date civil.Date) error {
	if err := checkDay(doctorID, date); err != nil {
		return err
	}
	if today := civil.DateOf(q.now().In(q.loc)); today.After(date.AddDays(1)) {
		return fmt.Errorf("%w: %s", ErrQueueClosed, date)
	}
	return nil
}

func checkDay(doctorID uuid.UUID, date civil.Date) error {
	if doctorID == uuid.Nil {
		return ErrInvalidDoctor
	}
	if !date.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidDate, date)
	}
	return nil
}
