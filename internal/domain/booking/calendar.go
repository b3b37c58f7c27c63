package booking

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/apptsched/internal/platform/scheduling"
)

// Calendar resolves the working windows of a doctor on a date. A per-date
// override wins over the weekly default.
type Calendar struct {
	defaults  DefaultHoursSource
	overrides OverrideSource
	logger    zerolog.Logger
}

func NewCalendar(defaults DefaultHoursSource, overrides OverrideSource, logger zerolog.Logger) *Calendar {
	return &Calendar{defaults: defaults, overrides: overrides, logger: logger}
}

// WindowsFor returns the windows ordered by start. An empty slice means the
// doctor does not work that date. A failing override lookup falls back to the
// weekly default; a failing default lookup is ErrCalendarUnavailable.
func (c *Calendar) WindowsFor(ctx context.Context, doctorID uuid.UUID, date civil.Date) ([]scheduling.TimeWindow, error) {
	if c.overrides != nil {
		o, err := c.overrides.Override(ctx, doctorID, date)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).
				Str("doctor_id", doctorID.String()).
				Str("date", date.String()).
				Msg("override lookup failed, using weekly hours")
		case o != nil:
			return scheduling.SortWindows(o.Windows), nil
		}
	}

	weekly, err := c.defaults.WeeklyHours(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("%w: doctor %s: %w", ErrCalendarUnavailable, doctorID, err)
	}
	return weekly.For(date), nil
}
