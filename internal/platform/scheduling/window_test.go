package scheduling

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestTimeWindow_Contains(t *testing.T) {
	day := MustWindow("09:00", "13:00")
	night := MustWindow("22:00", "06:00")

	tests := []struct {
		name   string
		w      TimeWindow
		minute int
		want   bool
	}{
		{"day start inclusive", day, 9 * 60, true},
		{"day end exclusive", day, 13 * 60, false},
		{"day before", day, 8*60 + 59, false},
		{"night before midnight", night, 23 * 60, true},
		{"night after midnight", night, 5*60 + 59, true},
		{"night end exclusive", night, 6 * 60, false},
		{"night afternoon", night, 15 * 60, false},
		{"night extended minute", night, 1440 + 60, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.Contains(tt.minute); got != tt.want {
				t.Errorf("Contains(%d) = %v, want %v", tt.minute, got, tt.want)
			}
		})
	}
}

func TestTimeWindow_DurationAndExtendedEnd(t *testing.T) {
	night := MustWindow("22:00", "06:00")
	if !night.Overnight() {
		t.Fatal("expected 22:00-06:00 to be overnight")
	}
	if got := night.DurationMinutes(); got != 480 {
		t.Errorf("expected 480 minutes, got %d", got)
	}
	if got := night.ExtendedEnd(); got != 1800 {
		t.Errorf("expected extended end 1800, got %d", got)
	}

	day := MustWindow("09:00", "13:00")
	if day.Overnight() {
		t.Error("09:00-13:00 must not be overnight")
	}
	if got := day.DurationMinutes(); got != 240 {
		t.Errorf("expected 240 minutes, got %d", got)
	}
}

func TestLongestWindow(t *testing.T) {
	ws := []TimeWindow{MustWindow("09:00", "10:00"), MustWindow("22:00", "02:00"), MustWindow("14:00", "16:00")}
	if got := LongestWindow(ws); got != 240 {
		t.Errorf("expected 240, got %d", got)
	}
	if got := LongestWindow(nil); got != 0 {
		t.Errorf("expected 0 for no windows, got %d", got)
	}
}

func TestTimeWindow_Place(t *testing.T) {
	night := MustWindow("22:00", "06:00")

	if got, ok := night.Place(60, 60); !ok || got != 1500 {
		t.Errorf("Place(01:00) = %d,%v, want 1500,true", got, ok)
	}
	if got, ok := night.Place(1500, 60); !ok || got != 1500 {
		t.Errorf("Place(1500) = %d,%v, want 1500,true", got, ok)
	}
	if got, ok := night.Place(22*60, 60); !ok || got != 1320 {
		t.Errorf("Place(22:00) = %d,%v, want 1320,true", got, ok)
	}
	if _, ok := night.Place(5*60+30, 60); ok {
		t.Error("05:30 for 60 minutes runs past 06:00 and must not fit")
	}
	if _, ok := night.Place(6*60, 60); ok {
		t.Error("06:00 is outside the window")
	}
	if _, ok := night.Place(12*60, 30); ok {
		t.Error("noon is outside the window")
	}

	day := MustWindow("09:00", "13:00")
	if got, ok := day.Place(12*60, 60); !ok || got != 720 {
		t.Errorf("Place(12:00) = %d,%v, want 720,true", got, ok)
	}
	if _, ok := day.Place(12*60+30, 60); ok {
		t.Error("12:30 for 60 minutes runs past 13:00 and must not fit")
	}
	if _, ok := day.Place(MinutesPerDay+10*60, 60); ok {
		t.Error("a next-morning minute must not land in a day window")
	}
	if _, ok := day.Place(10*60, 0); ok {
		t.Error("zero duration must not fit")
	}
}

func TestNewTimeWindow_Invalid(t *testing.T) {
	for _, bounds := range [][2]int{{-1, 60}, {0, 1440}, {1440, 0}} {
		if _, err := NewTimeWindow(bounds[0], bounds[1]); !errors.Is(err, ErrInvalidWindow) {
			t.Errorf("NewTimeWindow(%d, %d): expected ErrInvalidWindow, got %v", bounds[0], bounds[1], err)
		}
	}
}

func TestParseClock(t *testing.T) {
	if m, err := ParseClock("06:05"); err != nil || m != 365 {
		t.Errorf("ParseClock(06:05) = %d, %v", m, err)
	}
	for _, bad := range []string{"", "6", "24:00", "12:60", "ab:cd", "12:5"} {
		if _, err := ParseClock(bad); err == nil {
			t.Errorf("ParseClock(%q): expected error", bad)
		}
	}
	if got := FormatClock(1500); got != "01:00" {
		t.Errorf("FormatClock(1500) = %q", got)
	}
}

func TestTimeWindow_JSON(t *testing.T) {
	var w TimeWindow
	if err := json.Unmarshal([]byte(`{"start":"22:00","end":"06:00"}`), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.StartMinute != 1320 || w.EndMinute != 360 {
		t.Errorf("unexpected window %+v", w)
	}
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"start":"22:00","end":"06:00"}` {
		t.Errorf("unexpected JSON %s", data)
	}
	if err := json.Unmarshal([]byte(`{"start":"25:00","end":"06:00"}`), &w); err == nil {
		t.Error("expected error for invalid hour")
	}
}

func TestSortWindows(t *testing.T) {
	in := []TimeWindow{MustWindow("14:00", "18:00"), MustWindow("09:00", "12:00")}
	out := SortWindows(in)
	if out[0].StartMinute != 540 || out[1].StartMinute != 840 {
		t.Errorf("unexpected order %v", out)
	}
	if in[0].StartMinute != 840 {
		t.Error("SortWindows must not modify its input")
	}
}
