package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/ehr/apptsched/internal/platform/scheduling"
)

type dayKey struct {
	doctorID uuid.UUID
	date     civil.Date
}

// dayLocks is a mutex per (doctor, date). Entries are reference counted and
// dropped once no goroutine holds or waits on them.
type dayLocks struct {
	mu    sync.Mutex
	locks map[dayKey]*dayLock
}

type dayLock struct {
	mu   sync.Mutex
	refs int
}

func (d *dayLocks) lock(k dayKey) func() {
	d.mu.Lock()
	if d.locks == nil {
		d.locks = make(map[dayKey]*dayLock)
	}
	l, ok := d.locks[k]
	if !ok {
		l = &dayLock{}
		d.locks[k] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, k)
		}
		d.mu.Unlock()
	}
}

// =========== In-memory Ledger ===========

// MemoryLedger keeps appointments and queue serials in process memory. It
// serves single-instance deployments and tests.
type MemoryLedger struct {
	locks dayLocks

	mu      sync.RWMutex
	appts   map[uuid.UUID]*Appointment
	byDay   map[dayKey][]uuid.UUID
	serials map[dayKey]int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		appts:   make(map[uuid.UUID]*Appointment),
		byDay:   make(map[dayKey][]uuid.UUID),
		serials: make(map[dayKey]int),
	}
}

// WithinDay holds the locks of the previous date and of date, in that order,
// so commits on adjacent dates are serialised against each other.
func (m *MemoryLedger) WithinDay(ctx context.Context, doctorID uuid.UUID, date civil.Date, fn func(DayLedger) error) error {
	k := dayKey{doctorID, date}
	unlockPrev := m.locks.lock(dayKey{doctorID, date.AddDays(-1)})
	defer unlockPrev()
	unlock := m.locks.lock(k)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memoryDay{ledger: m, key: k})
}

func (m *MemoryLedger) Booked(_ context.Context, doctorID uuid.UUID, date civil.Date) ([]scheduling.BookedInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bookedLocked(dayKey{doctorID, date}), nil
}

// bookedLocked returns the active bookings that can collide with a slot on
// k's date, including overnight spill-over from the dates either side.
func (m *MemoryLedger) bookedLocked(k dayKey) []scheduling.BookedInterval {
	var near []scheduling.BookedInterval
	for offset := -1; offset <= 1; offset++ {
		for _, id := range m.byDay[dayKey{k.doctorID, k.date.AddDays(offset)}] {
			if a := m.appts[id]; a.Active() {
				near = append(near, a.Interval())
			}
		}
	}
	return scheduling.Neighbourhood(k.date, near)
}

func (m *MemoryLedger) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

// Cancel marks an active appointment cancelled. Cancelling twice reports
// ErrAppointmentNotFound, matching the Postgres ledger.
func (m *MemoryLedger) Cancel(_ context.Context, id uuid.UUID, at time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || !a.Active() {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusCancelled
	a.CancelledAt = &at
	cp := *a
	return &cp, nil
}

func (m *MemoryLedger) ListDay(_ context.Context, doctorID uuid.UUID, date civil.Date, limit, offset int) ([]*Appointment, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*Appointment
	for _, id := range m.byDay[dayKey{doctorID, date}] {
		cp := *m.appts[id]
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartMinute < all[j].StartMinute })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// Next reserves max+1 for the day. The increment runs under the ledger's
// write lock, so queue numbers never wait on appointment commits.
func (m *MemoryLedger) Next(ctx context.Context, doctorID uuid.UUID, date civil.Date) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := dayKey{doctorID, date}
	m.serials[k]++
	return m.serials[k], nil
}

func (m *MemoryLedger) Peek(_ context.Context, doctorID uuid.UUID, date civil.Date) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.serials[dayKey{doctorID, date}] + 1, nil
}

type memoryDay struct {
	ledger *MemoryLedger
	key    dayKey
}

func (d *memoryDay) Booked(context.Context) ([]scheduling.BookedInterval, error) {
	d.ledger.mu.RLock()
	defer d.ledger.mu.RUnlock()
	return d.ledger.bookedLocked(d.key), nil
}

// Insert refuses overlapping intervals even when the caller skipped the
// check, mirroring the exclusion constraint of the Postgres schema.
func (d *memoryDay) Insert(_ context.Context, a *Appointment) error {
	d.ledger.mu.Lock()
	defer d.ledger.mu.Unlock()
	if b, clash := scheduling.FirstConflict(a.StartMinute, a.EndMinute, d.ledger.bookedLocked(d.key)); clash {
		return &scheduling.ConflictError{Date: a.Date, StartMinute: a.StartMinute, EndMinute: a.EndMinute, With: b}
	}
	cp := *a
	d.ledger.appts[a.ID] = &cp
	d.ledger.byDay[d.key] = append(d.ledger.byDay[d.key], a.ID)
	return nil
}

// =========== In-memory Hours ===========

type MemoryHours struct {
	mu        sync.RWMutex
	weekly    map[uuid.UUID]WeeklyHours
	overrides map[dayKey]*DayOverride
}

func NewMemoryHours() *MemoryHours {
	return &MemoryHours{
		weekly:    make(map[uuid.UUID]WeeklyHours),
		overrides: make(map[dayKey]*DayOverride),
	}
}

func (h *MemoryHours) WeeklyHours(_ context.Context, doctorID uuid.UUID) (WeeklyHours, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	w, ok := h.weekly[doctorID]
	if !ok {
		return nil, ErrNoWorkingHours
	}
	return w, nil
}

func (h *MemoryHours) ReplaceWeekly(_ context.Context, doctorID uuid.UUID, hours WeeklyHours) error {
	cp := make(WeeklyHours, len(hours))
	for day, ws := range hours {
		cp[day] = scheduling.SortWindows(ws)
	}
	h.mu.Lock()
	h.weekly[doctorID] = cp
	h.mu.Unlock()
	return nil
}

func (h *MemoryHours) Override(_ context.Context, doctorID uuid.UUID, date civil.Date) (*DayOverride, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	o, ok := h.overrides[dayKey{doctorID, date}]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (h *MemoryHours) SetOverride(_ context.Context, o *DayOverride) error {
	cp := *o
	cp.Windows = scheduling.SortWindows(o.Windows)
	h.mu.Lock()
	h.overrides[dayKey{o.DoctorID, o.Date}] = &cp
	h.mu.Unlock()
	return nil
}

func (h *MemoryHours) DeleteOverride(_ context.Context, doctorID uuid.UUID, date civil.Date) error {
	h.mu.Lock()
	delete(h.overrides, dayKey{doctorID, date})
	h.mu.Unlock()
	return nil
}
