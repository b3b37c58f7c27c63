package booking

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/apptsched/internal/platform/scheduling"
)

type failingOverrides struct{ err error }

func (f failingOverrides) Override(context.Context, uuid.UUID, civil.Date) (*DayOverride, error) {
	return nil, f.err
}

type failingDefaults struct{ err error }

func (f failingDefaults) WeeklyHours(context.Context, uuid.UUID) (WeeklyHours, error) {
	return nil, f.err
}

func seededHours(t *testing.T, doctor uuid.UUID) *MemoryHours {
	t.Helper()
	h := NewMemoryHours()
	err := h.ReplaceWeekly(context.Background(), doctor, WeeklyHours{
		time.Monday: {scheduling.MustWindow("14:00", "18:00"), scheduling.MustWindow("08:00", "12:00")},
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestCalendar_WeeklyDefaultSorted(t *testing.T) {
	doctor := uuid.New()
	h := seededHours(t, doctor)
	cal := NewCalendar(h, h, zerolog.Nop())

	ws, err := cal.WindowsFor(context.Background(), doctor, monday)
	if err != nil {
		t.Fatal(err)
	}
	if len(ws) != 2 || ws[0].String() != "08:00-12:00" || ws[1].String() != "14:00-18:00" {
		t.Errorf("unexpected windows %v", ws)
	}

	tuesday, err := cal.WindowsFor(context.Background(), doctor, monday.AddDays(1))
	if err != nil || len(tuesday) != 0 {
		t.Errorf("expected no windows on tuesday, got %v (%v)", tuesday, err)
	}
}

func TestCalendar_OverrideWins(t *testing.T) {
	doctor := uuid.New()
	h := seededHours(t, doctor)
	cal := NewCalendar(h, h, zerolog.Nop())
	ctx := context.Background()

	if err := h.SetOverride(ctx, &DayOverride{
		DoctorID: doctor, Date: monday,
		Windows: []scheduling.TimeWindow{scheduling.MustWindow("20:00", "02:00")},
	}); err != nil {
		t.Fatal(err)
	}
	ws, _ := cal.WindowsFor(ctx, doctor, monday)
	if len(ws) != 1 || !ws[0].Overnight() {
		t.Errorf("expected the overnight override, got %v", ws)
	}

	if err := h.SetOverride(ctx, &DayOverride{DoctorID: doctor, Date: monday, Reason: "leave"}); err != nil {
		t.Fatal(err)
	}
	ws, _ = cal.WindowsFor(ctx, doctor, monday)
	if len(ws) != 0 {
		t.Errorf("day off must resolve to no windows, got %v", ws)
	}

	if err := h.DeleteOverride(ctx, doctor, monday); err != nil {
		t.Fatal(err)
	}
	ws, _ = cal.WindowsFor(ctx, doctor, monday)
	if len(ws) != 2 {
		t.Errorf("expected weekly default after delete, got %v", ws)
	}
}

func TestCalendar_OverrideFailureFallsBack(t *testing.T) {
	doctor := uuid.New()
	h := seededHours(t, doctor)
	var buf bytes.Buffer
	cal := NewCalendar(h, failingOverrides{err: errors.New("connection reset")}, zerolog.New(&buf))

	ws, err := cal.WindowsFor(context.Background(), doctor, monday)
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if len(ws) != 2 {
		t.Errorf("expected weekly windows, got %v", ws)
	}
	if !strings.Contains(buf.String(), "override lookup failed") {
		t.Errorf("expected a warning to be logged, got %q", buf.String())
	}
}

func TestCalendar_DefaultFailureIsUnavailable(t *testing.T) {
	cal := NewCalendar(failingDefaults{err: errors.New("timeout")}, nil, zerolog.Nop())
	_, err := cal.WindowsFor(context.Background(), uuid.New(), monday)
	if !errors.Is(err, ErrCalendarUnavailable) {
		t.Errorf("expected ErrCalendarUnavailable, got %v", err)
	}

	cal = NewCalendar(NewMemoryHours(), nil, zerolog.Nop())
	_, err = cal.WindowsFor(context.Background(), uuid.New(), monday)
	if !errors.Is(err, ErrCalendarUnavailable) || !errors.Is(err, ErrNoWorkingHours) {
		t.Errorf("expected ErrCalendarUnavailable wrapping ErrNoWorkingHours, got %v", err)
	}
}
