package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ehr/apptsched/internal/platform/scheduling"
	"github.com/ehr/apptsched/internal/platform/telemetry"
)

var tracer = otel.Tracer("apptsched.internal.booking")

const (
	defaultMaxAdvanceDays  = 14
	defaultMaxDurationMins = 480
)

// Options tune a Service. Zero values fall back to defaults.
type Options struct {
	Location           *time.Location
	MaxAdvanceDays     int
	MaxDurationMinutes int
	Logger             zerolog.Logger
	Metrics            *telemetry.Provider
	Now                func() time.Time
}

// Service orchestrates slot search, validation, commits and queue serials
// for doctors.
type Service struct {
	hours     HoursRepository
	calendar  *Calendar
	ledger    Ledger
	allocator *Allocator
	queue     *QueueAllocator

	loc            *time.Location
	now            func() time.Time
	maxAdvanceDays int
	maxDuration    int
	logger         zerolog.Logger
	metrics        *telemetry.Provider
}

func NewService(hours HoursRepository, ledger Ledger, serials SerialStore, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxAdvanceDays <= 0 {
		opts.MaxAdvanceDays = defaultMaxAdvanceDays
	}
	if opts.MaxDurationMinutes <= 0 {
		opts.MaxDurationMinutes = defaultMaxDurationMins
	}
	return &Service{
		hours:          hours,
		calendar:       NewCalendar(hours, hours, opts.Logger),
		ledger:         ledger,
		allocator:      NewAllocator(ledger, opts.Location, opts.Now),
		queue:          NewQueueAllocator(serials, opts.Location, opts.Now),
		loc:            opts.Location,
		now:            opts.Now,
		maxAdvanceDays: opts.MaxAdvanceDays,
		maxDuration:    opts.MaxDurationMinutes,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
}

// Location is the clinic time zone dates and minutes are interpreted in.
func (s *Service) Location() *time.Location { return s.loc }

// Today is the current clinic-local date.
func (s *Service) Today() civil.Date { return civil.DateOf(s.now().In(s.loc)) }

// FindNextSlot proposes the first free slot on req.Date. When the date has no
// time left (past, day off, or too late) the search moves to the next date,
// at most MaxAdvanceDays times, and the proposal is flagged as advanced. A
// fully booked date is reported as is. A duration longer than every window on
// req.Date fails with scheduling.ErrLongerThanWindows instead of advancing.
func (s *Service) FindNextSlot(ctx context.Context, req scheduling.SlotRequest) (*FindResult, error) {
	ctx, span := tracer.Start(ctx, "booking.FindNextSlot")
	defer span.End()
	span.SetAttributes(
		attribute.String("apptsched.doctor_id", req.DoctorID.String()),
		attribute.String("apptsched.date", req.Date.String()),
		attribute.Int("apptsched.duration_minutes", req.DurationMinutes),
		attribute.String("apptsched.mode", req.Mode.String()),
	)

	if err := s.checkRequest(req.DoctorID, req.Date, req.DurationMinutes); err != nil {
		return nil, err
	}

	now := scheduling.NowIn(s.now(), s.loc)
	day := req
	for attempt := 0; ; attempt++ {
		proposal, ex, err := s.searchDay(ctx, day, now, attempt == 0)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		if ex == nil {
			proposal.IsAutoAdvancedDate = attempt > 0
			result := &FindResult{Mode: req.Mode, Proposal: &proposal, DaysSearched: attempt + 1}
			if req.Mode == scheduling.NumberBased {
				serial, err := s.queue.Peek(ctx, req.DoctorID, day.Date)
				if err != nil {
					return nil, err
				}
				result.QueueSerial = serial
			}
			s.metrics.SlotSearched(req.Mode.String(), "proposed")
			span.SetAttributes(attribute.String("apptsched.proposed_date", proposal.Date.String()))
			return result, nil
		}

		if !scheduling.ShouldAdvance(ex) || attempt >= s.maxAdvanceDays {
			s.metrics.SlotSearched(req.Mode.String(), ex.Reason.String())
			s.logger.Info().
				Str("doctor_id", req.DoctorID.String()).
				Str("date", ex.Date.String()).
				Str("reason", ex.Reason.String()).
				Int("days_searched", attempt+1).
				Msg("no slot found")
			return &FindResult{Mode: req.Mode, Exhaustion: ex, DaysSearched: attempt + 1}, nil
		}
		day.Date = scheduling.NextSearchDate(day.Date)
	}
}

// searchDay runs one date. Number-based requests only need the doctor to
// have time left that day; bookings do not limit the queue. On the requested
// date a duration no window can hold is an error; later dates just skip.
func (s *Service) searchDay(ctx context.Context, req scheduling.SlotRequest, now scheduling.Now, requested bool) (scheduling.SlotProposal, *scheduling.Exhaustion, error) {
	windows, err := s.calendar.WindowsFor(ctx, req.DoctorID, req.Date)
	if err != nil {
		return scheduling.SlotProposal{}, nil, err
	}
	if requested && len(windows) > 0 {
		if longest := scheduling.LongestWindow(windows); longest < req.DurationMinutes {
			return scheduling.SlotProposal{}, nil, fmt.Errorf("%w: %d minutes requested, longest window on %s is %d",
				scheduling.ErrLongerThanWindows, req.DurationMinutes, req.Date, longest)
		}
	}

	var booked []scheduling.BookedInterval
	if len(windows) > 0 && req.Mode == scheduling.TimeBased {
		booked, err = s.ledger.Booked(ctx, req.DoctorID, req.Date)
		if err != nil {
			return scheduling.SlotProposal{}, nil, fmt.Errorf("load bookings: %w", err)
		}
	}
	p, ex := scheduling.FindSlot(req, windows, booked, now)
	return p, ex, nil
}

// ValidateSlot checks a user-chosen start without committing it.
func (s *Service) ValidateSlot(ctx context.Context, doctorID uuid.UUID, date civil.Date, startMinute, duration int) error {
	ctx, span := tracer.Start(ctx, "booking.ValidateSlot")
	defer span.End()

	if err := s.checkRequest(doctorID, date, duration); err != nil {
		return err
	}
	windows, err := s.calendar.WindowsFor(ctx, doctorID, date)
	if err != nil {
		return err
	}
	booked, err := s.ledger.Booked(ctx, doctorID, date)
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}
	_, err = scheduling.CheckSlot(windows, booked, date, startMinute, duration, scheduling.NowIn(s.now(), s.loc))
	return err
}

// CommitBooking validates and stores the booking atomically. A
// *scheduling.ConflictError means another booking won the slot; the caller
// may search again.
func (s *Service) CommitBooking(ctx context.Context, req CommitRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.CommitBooking")
	defer span.End()
	span.SetAttributes(
		attribute.String("apptsched.doctor_id", req.DoctorID.String()),
		attribute.String("apptsched.date", req.Date.String()),
		attribute.Int("apptsched.start_minute", req.StartMinute),
	)

	if err := s.checkRequest(req.DoctorID, req.Date, req.DurationMinutes); err != nil {
		return nil, err
	}
	windows, err := s.calendar.WindowsFor(ctx, req.DoctorID, req.Date)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	appt, err := s.allocator.Commit(ctx, req, windows)
	elapsed := time.Since(started)

	log := s.logger.With().
		Str("doctor_id", req.DoctorID.String()).
		Str("date", req.Date.String()).
		Str("start", scheduling.FormatClock(req.StartMinute)).
		Int("duration_minutes", req.DurationMinutes).
		Logger()

	var conflict *scheduling.ConflictError
	switch {
	case err == nil:
		s.metrics.CommitFinished("booked", elapsed)
		log.Info().Str("appointment_id", appt.ID.String()).Msg("appointment booked")
		return appt, nil
	case errors.As(err, &conflict):
		s.metrics.CommitFinished("conflict", elapsed)
		log.Info().Str("conflicts_with", conflict.With.AppointmentID.String()).Msg("booking conflict")
	case errors.Is(err, scheduling.ErrOutsideWorkingHours), errors.Is(err, scheduling.ErrSlotInPast):
		s.metrics.CommitFinished("rejected", elapsed)
	default:
		s.metrics.CommitFinished("error", elapsed)
		log.Error().Err(err).Msg("booking commit failed")
		span.SetStatus(codes.Error, err.Error())
	}
	span.RecordError(err)
	return nil, err
}

// NextQueueSerial reserves the next serial for the doctor's queue on date.
func (s *Service) NextQueueSerial(ctx context.Context, doctorID uuid.UUID, date civil.Date) (int, error) {
	ctx, span := tracer.Start(ctx, "booking.NextQueueSerial")
	defer span.End()

	n, err := s.queue.Next(ctx, doctorID, date)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	s.metrics.SerialIssued()
	s.logger.Info().
		Str("doctor_id", doctorID.String()).
		Str("date", date.String()).
		Int("serial", n).
		Msg("queue serial issued")
	return n, nil
}

// CancelAppointment frees the appointment's interval. Queue serials are not
// returned.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.ledger.Cancel(ctx, id, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.metrics.AppointmentCancelled()
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Str("date", appt.Date.String()).
		Msg("appointment cancelled")
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.ledger.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, doctorID uuid.UUID, date civil.Date, limit, offset int) ([]*Appointment, int, error) {
	return s.ledger.ListDay(ctx, doctorID, date, limit, offset)
}

// -- Working hours --

func (s *Service) WindowsFor(ctx context.Context, doctorID uuid.UUID, date civil.Date) ([]scheduling.TimeWindow, error) {
	return s.calendar.WindowsFor(ctx, doctorID, date)
}

func (s *Service) SetWeeklyHours(ctx context.Context, doctorID uuid.UUID, hours WeeklyHours) error {
	if doctorID == uuid.Nil {
		return ErrInvalidDoctor
	}
	for day, ws := range hours {
		if err := checkWindows(ws); err != nil {
			return fmt.Errorf("%s: %w", day, err)
		}
	}
	return s.hours.ReplaceWeekly(ctx, doctorID, hours)
}

func (s *Service) SetOverride(ctx context.Context, o *DayOverride) error {
	if err := checkDay(o.DoctorID, o.Date); err != nil {
		return err
	}
	if err := checkWindows(o.Windows); err != nil {
		return err
	}
	return s.hours.SetOverride(ctx, o)
}

func (s *Service) DeleteOverride(ctx context.Context, doctorID uuid.UUID, date civil.Date) error {
	if err := checkDay(doctorID, date); err != nil {
		return err
	}
	return s.hours.DeleteOverride(ctx, doctorID, date)
}

func (s *Service) checkRequest(doctorID uuid.UUID, date civil.Date, duration int) error {
	if err := checkDay(doctorID, date); err != nil {
		return err
	}
	return scheduling.ValidateDuration(duration, s.maxDuration)
}

// checkWindows rejects bounds outside the day and windows of one day that
// overlap each other.
func checkWindows(ws []scheduling.TimeWindow) error {
	sorted := scheduling.SortWindows(ws)
	for i, w := range sorted {
		if _, err := scheduling.NewTimeWindow(w.StartMinute, w.EndMinute); err != nil {
			return err
		}
		if i > 0 && sorted[i-1].ExtendedEnd() > w.StartMinute {
			return fmt.Errorf("%w: %s overlaps %s", scheduling.ErrInvalidWindow, sorted[i-1], w)
		}
	}
	return nil
}
