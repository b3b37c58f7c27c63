package scheduling

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// MinutesPerDay is the length of one wall-clock day.
	MinutesPerDay = 1440

	// extendedDayEnd bounds the date-local axis. Minutes at or past
	// MinutesPerDay belong to the morning after an overnight window began.
	extendedDayEnd = 2 * MinutesPerDay
)

// TimeWindow is a half-open [StartMinute, EndMinute) span of working time in
// minutes since midnight. EndMinute <= StartMinute marks an overnight window
// that runs past midnight into the next calendar day.
type TimeWindow struct {
	StartMinute int
	EndMinute   int
}

// NewTimeWindow validates the bounds and returns the window.
func NewTimeWindow(start, end int) (TimeWindow, error) {
	if start < 0 || start >= MinutesPerDay || end < 0 || end >= MinutesPerDay {
		return TimeWindow{}, fmt.Errorf("%w: %d-%d", ErrInvalidWindow, start, end)
	}
	return TimeWindow{StartMinute: start, EndMinute: end}, nil
}

// MustWindow parses two "HH:MM" clocks and panics on error. Intended for
// tests and static tables.
func MustWindow(start, end string) TimeWindow {
	w, err := ParseWindow(start, end)
	if err != nil {
		panic(err)
	}
	return w
}

// ParseWindow builds a window from two "HH:MM" clocks.
func ParseWindow(start, end string) (TimeWindow, error) {
	s, err := ParseClock(start)
	if err != nil {
		return TimeWindow{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return TimeWindow{}, err
	}
	return NewTimeWindow(s, e)
}

// Overnight reports whether the window crosses midnight.
func (w TimeWindow) Overnight() bool {
	return w.EndMinute <= w.StartMinute
}

// Contains reports whether the wall-clock minute falls inside the window.
func (w TimeWindow) Contains(minute int) bool {
	m := normalizeMinute(minute)
	if w.Overnight() {
		return m >= w.StartMinute || m < w.EndMinute
	}
	return m >= w.StartMinute && m < w.EndMinute
}

// DurationMinutes returns the total working time in the window.
func (w TimeWindow) DurationMinutes() int {
	if w.Overnight() {
		return (MinutesPerDay - w.StartMinute) + w.EndMinute
	}
	return w.EndMinute - w.StartMinute
}

// LongestWindow returns the largest DurationMinutes among ws, or 0 when ws
// is empty.
func LongestWindow(ws []TimeWindow) int {
	longest := 0
	for _, w := range ws {
		if d := w.DurationMinutes(); d > longest {
			longest = d
		}
	}
	return longest
}

// ExtendedEnd is the end of the window on the date-local axis.
func (w TimeWindow) ExtendedEnd() int {
	if w.Overnight() {
		return w.EndMinute + MinutesPerDay
	}
	return w.EndMinute
}

// Fits reports whether [start, start+duration) on the date-local axis lies
// entirely inside the window.
func (w TimeWindow) Fits(start, duration int) bool {
	end := start + duration
	return start >= w.StartMinute && end <= w.ExtendedEnd() && end <= extendedDayEnd
}

// Place maps a wall-clock start into the window's extended range and
// reports whether the whole slot fits. For the window 22:00-06:00 a start of
// 01:00 is placed at minute 1500. A start already at or past 1440 is taken
// as after midnight and only fits an overnight window.
func (w TimeWindow) Place(start, duration int) (int, bool) {
	if duration <= 0 || start < 0 || start >= extendedDayEnd {
		return 0, false
	}
	c := start
	if c < MinutesPerDay && w.Overnight() && c < w.StartMinute {
		if c >= w.EndMinute {
			return 0, false
		}
		c += MinutesPerDay
	}
	if !w.Fits(c, duration) {
		return 0, false
	}
	return c, true
}

func (w TimeWindow) String() string {
	return FormatClock(w.StartMinute) + "-" + FormatClock(w.EndMinute)
}

type windowJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (w TimeWindow) MarshalJSON() ([]byte, error) {
	return json.Marshal(windowJSON{Start: FormatClock(w.StartMinute), End: FormatClock(w.EndMinute)})
}

func (w *TimeWindow) UnmarshalJSON(data []byte) error {
	var raw windowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseWindow(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// SortWindows returns a copy of ws ordered by start minute.
func SortWindows(ws []TimeWindow) []TimeWindow {
	out := make([]TimeWindow, len(ws))
	copy(out, ws)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartMinute < out[j].StartMinute
	})
	return out
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// FormatClock renders a minute on the date-local axis as wall-clock "HH:MM".
func FormatClock(minute int) string {
	m := normalizeMinute(minute)
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func normalizeMinute(m int) int {
	return ((m % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
}
