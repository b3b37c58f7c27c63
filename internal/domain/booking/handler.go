package booking

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/apptsched/internal/platform/scheduling"
	"github.com/ehr/apptsched/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/doctors/:doctor_id/slots/next", h.FindNextSlot)
	api.POST("/doctors/:doctor_id/slots/validate", h.ValidateSlot)
	api.POST("/doctors/:doctor_id/appointments", h.CommitBooking)
	api.GET("/doctors/:doctor_id/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.DELETE("/appointments/:id", h.CancelAppointment)
	api.POST("/doctors/:doctor_id/queue", h.NextQueueSerial)

	// Calendar maintenance
	api.GET("/doctors/:doctor_id/windows", h.GetWindows)
	api.PUT("/doctors/:doctor_id/working-hours", h.PutWorkingHours)
	api.PUT("/doctors/:doctor_id/overrides/:date", h.PutOverride)
	api.DELETE("/doctors/:doctor_id/overrides/:date", h.DeleteOverride)
}

// -- Request / response bodies --

// slotBody names the start either as a wall-clock "HH:MM" (start) or as an
// RFC 3339 instant (start_at), which is read on the date's clinic-local axis.
type slotBody struct {
	Date            string `json:"date"`
	Start           string `json:"start,omitempty"`
	StartAt         string `json:"start_at,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	PayloadRef      string `json:"payload_ref,omitempty"`
}

type slotResponse struct {
	Available          bool   `json:"available"`
	Mode               string `json:"mode"`
	Date               string `json:"date"`
	Start              string `json:"start,omitempty"`
	End                string `json:"end,omitempty"`
	StartMinute        int    `json:"start_minute,omitempty"`
	EndMinute          int    `json:"end_minute,omitempty"`
	EndsNextDay        bool   `json:"ends_next_day,omitempty"`
	IsAutoAdvancedDate bool   `json:"is_auto_advanced_date"`
	QueueSerial        int    `json:"queue_serial,omitempty"`
	Reason             string `json:"reason,omitempty"`
	DaysSearched       int    `json:"days_searched"`
}

type serialResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Serial   int       `json:"serial"`
}

type windowsResponse struct {
	DoctorID uuid.UUID               `json:"doctor_id"`
	Date     string                  `json:"date"`
	Windows  []scheduling.TimeWindow `json:"windows"`
}

type overrideBody struct {
	Windows []scheduling.TimeWindow `json:"windows"`
	Reason  string                  `json:"reason,omitempty"`
}

// -- Slot handlers --

func (h *Handler) FindNextSlot(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	date, err := h.dateQuery(c)
	if err != nil {
		return err
	}
	duration, err := strconv.Atoi(c.QueryParam("duration"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "duration must be an integer number of minutes")
	}
	mode, err := scheduling.ParseMode(c.QueryParam("mode"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := h.svc.FindNextSlot(c.Request().Context(), scheduling.SlotRequest{
		DoctorID:        doctorID,
		Date:            date,
		DurationMinutes: duration,
		Mode:            mode,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toSlotResponse(res))
}

func toSlotResponse(res *FindResult) slotResponse {
	out := slotResponse{Mode: res.Mode.String(), DaysSearched: res.DaysSearched}
	if res.Exhaustion != nil {
		out.Date = res.Exhaustion.Date.String()
		out.Reason = res.Exhaustion.Reason.String()
		return out
	}
	p := res.Proposal
	out.Available = true
	out.Date = p.Date.String()
	out.IsAutoAdvancedDate = p.IsAutoAdvancedDate
	if res.Mode == scheduling.NumberBased {
		out.QueueSerial = res.QueueSerial
		return out
	}
	out.Start = p.StartClock()
	out.End = p.EndClock()
	out.StartMinute = p.StartMinute
	out.EndMinute = p.EndMinute
	out.EndsNextDay = p.EndsNextDay()
	return out
}

func (h *Handler) ValidateSlot(c echo.Context) error {
	doctorID, date, start, body, err := h.bindSlot(c)
	if err != nil {
		return err
	}
	if err := h.svc.ValidateSlot(c.Request().Context(), doctorID, date, start, body.DurationMinutes); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"valid": true})
}

func (h *Handler) CommitBooking(c echo.Context) error {
	doctorID, date, start, body, err := h.bindSlot(c)
	if err != nil {
		return err
	}
	appt, err := h.svc.CommitBooking(c.Request().Context(), CommitRequest{
		DoctorID:        doctorID,
		Date:            date,
		StartMinute:     start,
		DurationMinutes: body.DurationMinutes,
		PayloadRef:      body.PayloadRef,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) bindSlot(c echo.Context) (uuid.UUID, civil.Date, int, slotBody, error) {
	var body slotBody
	doctorID, err := doctorParam(c)
	if err != nil {
		return uuid.Nil, civil.Date{}, 0, body, err
	}
	if err := c.Bind(&body); err != nil {
		return uuid.Nil, civil.Date{}, 0, body, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := civil.ParseDate(body.Date)
	if err != nil {
		return uuid.Nil, civil.Date{}, 0, body, echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	start, err := h.slotStart(date, body)
	if err != nil {
		return uuid.Nil, civil.Date{}, 0, body, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return doctorID, date, start, body, nil
}

func (h *Handler) slotStart(date civil.Date, body slotBody) (int, error) {
	if body.StartAt == "" {
		return scheduling.ParseClock(body.Start)
	}
	if body.Start != "" {
		return 0, errors.New("give either start or start_at, not both")
	}
	at, err := time.Parse(time.RFC3339, body.StartAt)
	if err != nil {
		return 0, fmt.Errorf("start_at must be RFC 3339: %w", err)
	}
	m := scheduling.ProjectToDate(date, h.svc.Location(), at)
	if m < 0 || m >= 2*scheduling.MinutesPerDay {
		return 0, fmt.Errorf("start_at %s is not on %s or the night after it", body.StartAt, date)
	}
	return m, nil
}

// -- Appointment handlers --

func (h *Handler) ListAppointments(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	date, err := h.dateQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), doctorID, date, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.svc.CancelAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) NextQueueSerial(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	date, err := h.dateQuery(c)
	if err != nil {
		return err
	}
	n, err := h.svc.NextQueueSerial(c.Request().Context(), doctorID, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, serialResponse{DoctorID: doctorID, Date: date.String(), Serial: n})
}

// -- Working-hours handlers --

func (h *Handler) GetWindows(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	date, err := h.dateQuery(c)
	if err != nil {
		return err
	}
	windows, err := h.svc.WindowsFor(c.Request().Context(), doctorID, date)
	if err != nil {
		return httpError(err)
	}
	if windows == nil {
		windows = []scheduling.TimeWindow{}
	}
	return c.JSON(http.StatusOK, windowsResponse{DoctorID: doctorID, Date: date.String(), Windows: windows})
}

// PutWorkingHours replaces the weekly default. The body maps lower-case day
// names to window lists, e.g. {"monday":[{"start":"09:00","end":"13:00"}]}.
func (h *Handler) PutWorkingHours(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	// Decoded directly: echo's binder would also try to copy path params
	// into the map.
	var body map[string][]scheduling.TimeWindow
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	hours := WeeklyHours{}
	for name, ws := range body {
		day, err := parseWeekday(name)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		hours[day] = ws
	}
	if err := h.svc.SetWeeklyHours(c.Request().Context(), doctorID, hours); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PutOverride(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	date, err := civil.ParseDate(c.Param("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	var body overrideBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o := &DayOverride{DoctorID: doctorID, Date: date, Windows: body.Windows, Reason: body.Reason}
	if err := h.svc.SetOverride(c.Request().Context(), o); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) DeleteOverride(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	date, err := civil.ParseDate(c.Param("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	if err := h.svc.DeleteOverride(c.Request().Context(), doctorID, date); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- helpers --

func doctorParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("doctor_id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	return id, nil
}

// dateQuery reads ?date=YYYY-MM-DD, defaulting to today in the clinic zone.
func (h *Handler) dateQuery(c echo.Context) (civil.Date, error) {
	raw := c.QueryParam("date")
	if raw == "" {
		return h.svc.Today(), nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	return d, nil
}

func parseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(name, d.String()) {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", name)
}

// httpError maps domain errors to HTTP status codes.
func httpError(err error) error {
	var conflict *scheduling.ConflictError
	switch {
	case errors.As(err, &conflict):
		body := map[string]any{"message": conflict.Error(), "retryable": true}
		if conflict.With.AppointmentID != uuid.Nil {
			body["conflicts_with"] = conflict.With.AppointmentID
		}
		return echo.NewHTTPError(http.StatusConflict, body)
	case errors.Is(err, scheduling.ErrInvalidDuration),
		errors.Is(err, scheduling.ErrInvalidWindow),
		errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidDoctor):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduling.ErrOutsideWorkingHours),
		errors.Is(err, scheduling.ErrSlotInPast),
		errors.Is(err, scheduling.ErrLongerThanWindows),
		errors.Is(err, ErrQueueClosed):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrCalendarUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
