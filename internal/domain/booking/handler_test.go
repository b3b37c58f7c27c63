package booking

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv(t)
	return NewHandler(env.svc), env, echo.New()
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	return he.Code
}

func TestHandler_FindNextSlot(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.book(t, monday, "09:00", 30)

	req := httptest.NewRequest(http.MethodGet, "/?date=2025-03-10&duration=30", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("doctor_id")
	c.SetParamValues(env.doctor.String())

	if err := h.FindNextSlot(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body slotResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Available || body.Start != "09:30" || body.End != "10:00" || body.Date != "2025-03-10" {
		t.Errorf("unexpected response %+v", body)
	}
}

func TestHandler_FindNextSlot_NumberMode(t *testing.T) {
	h, env, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/?date=2025-03-10&duration=15&mode=number", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("doctor_id")
	c.SetParamValues(env.doctor.String())

	if err := h.FindNextSlot(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body slotResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.QueueSerial != 1 || body.Start != "" || body.Mode != "number" {
		t.Errorf("unexpected response %+v", body)
	}
}

func TestHandler_FindNextSlot_BadInput(t *testing.T) {
	h, env, e := newTestHandler(t)
	cases := []struct {
		name     string
		doctorID string
		query    string
		want     int
	}{
		{"bad doctor", "nope", "?duration=30", http.StatusBadRequest},
		{"bad date", env.doctor.String(), "?date=10-03-2025&duration=30", http.StatusBadRequest},
		{"missing duration", env.doctor.String(), "?date=2025-03-10", http.StatusBadRequest},
		{"zero duration", env.doctor.String(), "?date=2025-03-10&duration=0", http.StatusBadRequest},
		{"bad mode", env.doctor.String(), "?date=2025-03-10&duration=30&mode=walkin", http.StatusBadRequest},
		{"longer than every window", env.doctor.String(), "?date=2025-03-10&duration=300", http.StatusUnprocessableEntity},
		{"unknown doctor", uuid.New().String(), "?date=2025-03-10&duration=30", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/"+tc.query, nil), httptest.NewRecorder())
			c.SetParamNames("doctor_id")
			c.SetParamValues(tc.doctorID)
			if got := statusOf(t, h.FindNextSlot(c)); got != tc.want {
				t.Errorf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestHandler_CommitBooking(t *testing.T) {
	h, env, e := newTestHandler(t)
	post := func(body string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("doctor_id")
		c.SetParamValues(env.doctor.String())
		return rec, h.CommitBooking(c)
	}

	rec, err := post(`{"date":"2025-03-10","start":"10:00","duration_minutes":30,"payload_ref":"visit-1"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var appt Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &appt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if appt.ID == uuid.Nil || appt.PayloadRef != "visit-1" || appt.StartMinute != 600 {
		t.Errorf("unexpected appointment %+v", appt)
	}

	_, err = post(`{"date":"2025-03-10","start":"10:15","duration_minutes":30}`)
	if got := statusOf(t, err); got != http.StatusConflict {
		t.Errorf("overlap: expected 409, got %d", got)
	}
	_, err = post(`{"date":"2025-03-10","start":"15:00","duration_minutes":30}`)
	if got := statusOf(t, err); got != http.StatusUnprocessableEntity {
		t.Errorf("outside hours: expected 422, got %d", got)
	}
	_, err = post(`{"date":"2025-03-10","start":"9am","duration_minutes":30}`)
	if got := statusOf(t, err); got != http.StatusBadRequest {
		t.Errorf("bad clock: expected 400, got %d", got)
	}
}

func TestHandler_CommitBooking_StartAt(t *testing.T) {
	h, env, e := newTestHandler(t)
	post := func(body string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("doctor_id")
		c.SetParamValues(env.doctor.String())
		return rec, h.CommitBooking(c)
	}

	rec, err := post(`{"date":"2025-03-10","start_at":"2025-03-10T11:00:00Z","duration_minutes":30}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var appt Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &appt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusCreated || appt.StartMinute != 660 {
		t.Fatalf("expected 201 at minute 660, got %d at %d", rec.Code, appt.StartMinute)
	}

	cases := []struct {
		name string
		body string
		want int
	}{
		{"same instant in another offset", `{"date":"2025-03-10","start_at":"2025-03-10T12:15:00+01:00","duration_minutes":30}`, http.StatusConflict},
		{"next morning is not this date's morning", `{"date":"2025-03-10","start_at":"2025-03-11T09:00:00Z","duration_minutes":30}`, http.StatusUnprocessableEntity},
		{"day before", `{"date":"2025-03-10","start_at":"2025-03-09T10:00:00Z","duration_minutes":30}`, http.StatusBadRequest},
		{"both forms", `{"date":"2025-03-10","start":"12:00","start_at":"2025-03-10T12:00:00Z","duration_minutes":30}`, http.StatusBadRequest},
		{"not rfc 3339", `{"date":"2025-03-10","start_at":"10 March 12:00","duration_minutes":30}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := post(tc.body)
			if got := statusOf(t, err); got != tc.want {
				t.Errorf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestHandler_ValidateSlot(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.book(t, monday, "11:00", 60)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"date":"2025-03-10","start":"11:30","duration_minutes":30}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("doctor_id")
	c.SetParamValues(env.doctor.String())

	err := h.ValidateSlot(c)
	if got := statusOf(t, err); got != http.StatusConflict {
		t.Errorf("expected 409, got %d", got)
	}
}

func TestHandler_QueueAndCancel(t *testing.T) {
	h, env, e := newTestHandler(t)

	for want := 1; want <= 2; want++ {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/?date=2025-03-10", nil), rec)
		c.SetParamNames("doctor_id")
		c.SetParamValues(env.doctor.String())
		if err := h.NextQueueSerial(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var body serialResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if rec.Code != http.StatusCreated || body.Serial != want {
			t.Errorf("expected serial %d with 201, got %d with %d", want, body.Serial, rec.Code)
		}
	}

	{
		// Thursday: Monday's queue has closed.
		saved := *env.clock
		*env.clock = saved.Add(72 * time.Hour)
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/?date=2025-03-10", nil), httptest.NewRecorder())
		c.SetParamNames("doctor_id")
		c.SetParamValues(env.doctor.String())
		if got := statusOf(t, h.NextQueueSerial(c)); got != http.StatusUnprocessableEntity {
			t.Errorf("closed queue: expected 422, got %d", got)
		}
		*env.clock = saved
	}

	appt := env.book(t, monday, "09:00", 30)
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(appt.ID.String())
	if err := h.CancelAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if got := statusOf(t, h.CancelAppointment(c)); got != http.StatusNotFound {
		t.Errorf("expected 404, got %d", got)
	}
}

func TestHandler_WorkingHoursAndOverrides(t *testing.T) {
	h, env, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"Monday":[{"start":"22:00","end":"06:00"}]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("doctor_id")
	c.SetParamValues(env.doctor.String())
	if err := h.PutWorkingHours(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"windows":[],"reason":"training"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("doctor_id", "date")
	c.SetParamValues(env.doctor.String(), "2025-03-17")
	if err := h.PutOverride(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	windowsFor := func(date string) windowsResponse {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?date="+date, nil), rec)
		c.SetParamNames("doctor_id")
		c.SetParamValues(env.doctor.String())
		if err := h.GetWindows(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var body windowsResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body
	}

	if got := windowsFor("2025-03-10"); len(got.Windows) != 1 || got.Windows[0].String() != "22:00-06:00" {
		t.Errorf("unexpected monday windows %+v", got.Windows)
	}
	if got := windowsFor("2025-03-17"); len(got.Windows) != 0 {
		t.Errorf("expected day off, got %+v", got.Windows)
	}

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"funday":[]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("doctor_id")
	c.SetParamValues(env.doctor.String())
	if got := statusOf(t, h.PutWorkingHours(c)); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestHandler_ListAppointments(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.book(t, monday, "09:00", 30)
	env.book(t, monday, "10:00", 30)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?date=2025-03-10&limit=1", nil), rec)
	c.SetParamNames("doctor_id")
	c.SetParamValues(env.doctor.String())
	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data       []Appointment `json:"data"`
		Total      int           `json:"total"`
		NextOffset *int          `json:"next_offset"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 2 || len(body.Data) != 1 || body.NextOffset == nil {
		t.Errorf("unexpected page %+v", body)
	}
}
