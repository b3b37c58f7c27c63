// Package telemetry wires Prometheus metrics and OpenTelemetry spans into the
// HTTP server and the booking service. All recorder methods are safe to call
// on a nil *Provider so tests and one-shot CLI commands can skip metrics.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const namespace = "apptsched"

var tracer = otel.Tracer("github.com/ehr/apptsched/internal/platform/telemetry")

// Provider owns the metric collectors for one process.
type Provider struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge

	proposals     *prometheus.CounterVec
	commits       *prometheus.CounterVec
	commitLatency prometheus.Histogram
	serials       prometheus.Counter
	cancellations prometheus.Counter

	poolActive prometheus.Gauge
	poolIdle   prometheus.Gauge
}

// NewProvider registers all collectors on a fresh registry together with the
// Go runtime and process collectors.
func NewProvider() *Provider {
	p := &Provider{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Requests currently being served",
		}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "proposals_total",
			Help:      "Slot searches by outcome",
		}, []string{"mode", "outcome"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "commits_total",
			Help:      "Booking commit attempts by result",
		}, []string{"result"}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "commit_duration_seconds",
			Help:      "Time spent inside the booking critical section",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		serials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "serials_issued_total",
			Help:      "Queue serial numbers handed out",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "cancellations_total",
			Help:      "Appointments cancelled",
		}),
		poolActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      "active_connections",
			Help:      "Acquired database connections",
		}),
		poolIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      "idle_connections",
			Help:      "Idle database connections",
		}),
	}
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.requestDuration, p.activeRequests,
		p.proposals, p.commits, p.commitLatency, p.serials, p.cancellations,
		p.poolActive, p.poolIdle,
	)
	return p
}

// Registry exposes the underlying registry for tests and extra collectors.
func (p *Provider) Registry() *prometheus.Registry {
	if p == nil {
		return nil
	}
	return p.registry
}

// Handler serves the Prometheus text exposition.
func (p *Provider) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

// -- Domain recorders --

// SlotSearched records a FindNextSlot outcome ("proposed", "fully_booked",
// "day_over").
func (p *Provider) SlotSearched(mode, outcome string) {
	if p == nil {
		return
	}
	p.proposals.WithLabelValues(mode, outcome).Inc()
}

// CommitFinished records a commit attempt and how long it held the day lock.
func (p *Provider) CommitFinished(result string, elapsed time.Duration) {
	if p == nil {
		return
	}
	p.commits.WithLabelValues(result).Inc()
	p.commitLatency.Observe(elapsed.Seconds())
}

func (p *Provider) SerialIssued() {
	if p == nil {
		return
	}
	p.serials.Inc()
}

func (p *Provider) AppointmentCancelled() {
	if p == nil {
		return
	}
	p.cancellations.Inc()
}

// SetDBPool publishes connection pool gauges.
func (p *Provider) SetDBPool(active, idle int32) {
	if p == nil {
		return
	}
	p.poolActive.Set(float64(active))
	p.poolIdle.Set(float64(idle))
}

// -- Middleware --

// MetricsMiddleware records request latency keyed by the route pattern.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if p == nil {
				return next(c)
			}
			p.activeRequests.Inc()
			defer p.activeRequests.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := strconv.Itoa(c.Response().Status)
			p.requestDuration.WithLabelValues(c.Request().Method, route, status).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// TracingMiddleware starts a server span per request. Spans go to whatever
// TracerProvider is installed globally; without one they are no-ops.
func TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}

			ctx, span := tracer.Start(req.Context(), "HTTP "+req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			span.SetAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", status),
			)
			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				span.SetAttributes(attribute.String("http.request_id", id))
			}
			if status >= 500 {
				span.SetStatus(codes.Error, strconv.Itoa(status))
			}
			return nil
		}
	}
}
