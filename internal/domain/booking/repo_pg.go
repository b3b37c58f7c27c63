package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/apptsched/internal/platform/scheduling"
)

// PgxPool is the subset of *pgxpool.Pool the repositories need. pgxmock
// pools satisfy it in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SQLSTATE exclusion_violation, raised by the appointment_no_overlap constraint.
const exclusionViolation = "23P01"

// pgDate converts a calendar date into the value bound to DATE columns.
func pgDate(d civil.Date) time.Time { return d.In(time.UTC) }

// dayLockKey is hashed into the advisory lock id for one (doctor, date).
func dayLockKey(doctorID uuid.UUID, date civil.Date) string {
	return "appt:" + doctorID.String() + ":" + date.String()
}

// =========== Appointment Ledger ===========

type LedgerPG struct{ pool PgxPool }

// NewLedgerPG returns a ledger that serialises each (doctor, date) with a
// transaction-scoped advisory lock.
func NewLedgerPG(pool PgxPool) *LedgerPG { return &LedgerPG{pool: pool} }

const apptCols = `id, doctor_id, service_date, start_minute, end_minute, status,
	payload_ref, created_at, cancelled_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var status string
	err := row.Scan(&a.ID, &a.DoctorID, &date, &a.StartMinute, &a.EndMinute, &status,
		&a.PayloadRef, &a.CreatedAt, &a.CancelledAt)
	if err != nil {
		return nil, err
	}
	a.Date = civil.DateOf(date)
	a.Status = Status(status)
	return &a, nil
}

// WithinDay locks the previous date and then date, always in that order, so
// two commits on adjacent dates cannot deadlock.
func (r *LedgerPG) WithinDay(ctx context.Context, doctorID uuid.UUID, date civil.Date, fn func(DayLedger) error) error {
	keys := []string{dayLockKey(doctorID, date.AddDays(-1)), dayLockKey(doctorID, date)}
	return r.inLockedTx(ctx, keys, func(tx pgx.Tx) error {
		return fn(&pgDay{q: tx, doctorID: doctorID, date: date})
	})
}

// inLockedTx runs fn in a transaction after taking the advisory locks for
// keys in order. The locks are released when the transaction ends.
func (r *LedgerPG) inLockedTx(ctx context.Context, keys []string, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, key := range keys {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *LedgerPG) Booked(ctx context.Context, doctorID uuid.UUID, date civil.Date) ([]scheduling.BookedInterval, error) {
	return bookedIntervals(ctx, r.pool, doctorID, date)
}

func bookedIntervals(ctx context.Context, q queryable, doctorID uuid.UUID, date civil.Date) ([]scheduling.BookedInterval, error) {
	rows, err := q.Query(ctx, `
		SELECT id, service_date, start_minute, end_minute FROM appointment
		WHERE doctor_id = $1 AND service_date BETWEEN $2 AND $3 AND status = 'booked'`,
		doctorID, pgDate(date.AddDays(-1)), pgDate(date.AddDays(1)))
	if err != nil {
		return nil, fmt.Errorf("query booked intervals: %w", err)
	}
	defer rows.Close()
	var near []scheduling.BookedInterval
	for rows.Next() {
		var b scheduling.BookedInterval
		var filed time.Time
		if err := rows.Scan(&b.AppointmentID, &filed, &b.StartMinute, &b.EndMinute); err != nil {
			return nil, fmt.Errorf("scan booked interval: %w", err)
		}
		b.Date = civil.DateOf(filed)
		near = append(near, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scheduling.Neighbourhood(date, near), nil
}

func (r *LedgerPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (r *LedgerPG) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, `
		UPDATE appointment SET status = 'cancelled', cancelled_at = $2
		WHERE id = $1 AND status = 'booked'
		RETURNING `+apptCols, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (r *LedgerPG) ListDay(ctx context.Context, doctorID uuid.UUID, date civil.Date, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE doctor_id = $1 AND service_date = $2`,
		doctorID, pgDate(date)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE doctor_id = $1 AND service_date = $2
		ORDER BY start_minute, created_at LIMIT $3 OFFSET $4`, doctorID, pgDate(date), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// queueLockKey is hashed into the advisory lock id for one day's queue.
func queueLockKey(doctorID uuid.UUID, date civil.Date) string {
	return "queue:" + doctorID.String() + ":" + date.String()
}

// Next reserves max+1 under the day's queue lock, which appointment commits
// never take.
func (r *LedgerPG) Next(ctx context.Context, doctorID uuid.UUID, date civil.Date) (int, error) {
	var serial int
	err := r.inLockedTx(ctx, []string{queueLockKey(doctorID, date)}, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(serial), 0) + 1 FROM queue_serial
			WHERE doctor_id = $1 AND service_date = $2`, doctorID, pgDate(date)).Scan(&serial); err != nil {
			return fmt.Errorf("read max serial: %w", err)
		}
		_, err := tx.Exec(ctx, `INSERT INTO queue_serial (doctor_id, service_date, serial) VALUES ($1, $2, $3)`,
			doctorID, pgDate(date), serial)
		return err
	})
	return serial, err
}

func (r *LedgerPG) Peek(ctx context.Context, doctorID uuid.UUID, date civil.Date) (int, error) {
	var serial int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(serial), 0) + 1 FROM queue_serial
		WHERE doctor_id = $1 AND service_date = $2`, doctorID, pgDate(date)).Scan(&serial)
	return serial, err
}

type pgDay struct {
	q        queryable
	doctorID uuid.UUID
	date     civil.Date
}

func (d *pgDay) Booked(ctx context.Context) ([]scheduling.BookedInterval, error) {
	return bookedIntervals(ctx, d.q, d.doctorID, d.date)
}

func (d *pgDay) Insert(ctx context.Context, a *Appointment) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO appointment (id, doctor_id, service_date, start_minute, end_minute, status, payload_ref, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.DoctorID, pgDate(a.Date), a.StartMinute, a.EndMinute, string(a.Status), a.PayloadRef, a.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return &scheduling.ConflictError{Date: a.Date, StartMinute: a.StartMinute, EndMinute: a.EndMinute}
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// =========== Working Hours ===========

type hoursPG struct{ pool PgxPool }

func NewHoursPG(pool PgxPool) HoursRepository { return &hoursPG{pool: pool} }

func (r *hoursPG) WeeklyHours(ctx context.Context, doctorID uuid.UUID) (WeeklyHours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_minute, end_minute FROM working_hours
		WHERE doctor_id = $1 ORDER BY weekday, start_minute`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query working hours: %w", err)
	}
	defer rows.Close()

	hours := WeeklyHours{}
	found := false
	for rows.Next() {
		var day, start, end int
		if err := rows.Scan(&day, &start, &end); err != nil {
			return nil, fmt.Errorf("scan working hours: %w", err)
		}
		found = true
		hours[time.Weekday(day)] = append(hours[time.Weekday(day)], scheduling.TimeWindow{StartMinute: start, EndMinute: end})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoWorkingHours
	}
	return hours, nil
}

func (r *hoursPG) ReplaceWeekly(ctx context.Context, doctorID uuid.UUID, hours WeeklyHours) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM working_hours WHERE doctor_id = $1`, doctorID); err != nil {
		return fmt.Errorf("clear working hours: %w", err)
	}
	for day := time.Sunday; day <= time.Saturday; day++ {
		for _, w := range hours[day] {
			if _, err := tx.Exec(ctx, `
				INSERT INTO working_hours (doctor_id, weekday, start_minute, end_minute)
				VALUES ($1,$2,$3,$4)`, doctorID, int(day), w.StartMinute, w.EndMinute); err != nil {
				return fmt.Errorf("insert working hours: %w", err)
			}
		}
	}
	return tx.Commit(ctx)
}

// Override reads the override rows for a date. A day off is stored as one
// row with NULL minutes.
func (r *hoursPG) Override(ctx context.Context, doctorID uuid.UUID, date civil.Date) (*DayOverride, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(start_minute, -1), COALESCE(end_minute, -1), reason FROM working_hours_override
		WHERE doctor_id = $1 AND service_date = $2 ORDER BY start_minute NULLS FIRST`, doctorID, pgDate(date))
	if err != nil {
		return nil, fmt.Errorf("query override: %w", err)
	}
	defer rows.Close()

	var o *DayOverride
	for rows.Next() {
		var start, end int
		var reason string
		if err := rows.Scan(&start, &end, &reason); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		if o == nil {
			o = &DayOverride{DoctorID: doctorID, Date: date, Windows: []scheduling.TimeWindow{}, Reason: reason}
		}
		if start >= 0 {
			o.Windows = append(o.Windows, scheduling.TimeWindow{StartMinute: start, EndMinute: end})
		}
	}
	return o, rows.Err()
}

func (r *hoursPG) SetOverride(ctx context.Context, o *DayOverride) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM working_hours_override WHERE doctor_id = $1 AND service_date = $2`,
		o.DoctorID, pgDate(o.Date)); err != nil {
		return fmt.Errorf("clear override: %w", err)
	}
	if len(o.Windows) == 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO working_hours_override (doctor_id, service_date, start_minute, end_minute, reason)
			VALUES ($1,$2,NULL,NULL,$3)`, o.DoctorID, pgDate(o.Date), o.Reason); err != nil {
			return fmt.Errorf("insert day off: %w", err)
		}
	}
	for _, w := range o.Windows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO working_hours_override (doctor_id, service_date, start_minute, end_minute, reason)
			VALUES ($1,$2,$3,$4,$5)`, o.DoctorID, pgDate(o.Date), w.StartMinute, w.EndMinute, o.Reason); err != nil {
			return fmt.Errorf("insert override window: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (r *hoursPG) DeleteOverride(ctx context.Context, doctorID uuid.UUID, date civil.Date) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM working_hours_override WHERE doctor_id = $1 AND service_date = $2`,
		doctorID, pgDate(date))
	return err
}
