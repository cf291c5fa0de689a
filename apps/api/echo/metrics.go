package echoapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors of the API.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	submissions prometheus.Counter
	reports     prometheus.Counter
}

// NewMetrics creates the API collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const namespace = "peereval"
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Number of HTTP requests handled, by method, route and status code.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time spent handling HTTP requests, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "surveys",
			Name:      "submissions_total",
			Help:      "Number of accepted survey submissions.",
		}),
		reports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "surveys",
			Name:      "reports_total",
			Help:      "Number of PDF feedback reports generated.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.submissions, m.reports)
	return m
}

func (m *Metrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			if err := next(ctx); err != nil {
				ctx.Error(err)
			}
			route := ctx.Path()
			method := ctx.Request().Method
			m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			m.requests.WithLabelValues(method, route, strconv.Itoa(ctx.Response().Status)).Inc()
			return nil
		}
	}
}

func (m *Metrics) submissionAccepted() {
	if m != nil {
		m.submissions.Inc()
	}
}

func (m *Metrics) reportGenerated() {
	if m != nil {
		m.reports.Inc()
	}
}
