package middleware

import (
	"strconv"
	"sync"
	"time"

	applogger "TradeWatch/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradewatch",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route template and status class.",
	}, []string{"route", "method", "class"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tradewatch",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"route", "method"})

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradewatch",
		Subsystem: "http",
		Name:      "in_flight_requests",
		Help:      "Requests currently being served.",
	})

	registerHTTP sync.Once
)

// Metrics records request counters and latency labelled by the matched route
// template, so /api/instruments/:id is one series regardless of the id.
// Server errors and requests slower than slow are logged.
func Metrics(l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	registerHTTP.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, httpInFlight)
	})
	if l == nil {
		l = applogger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			httpInFlight.Inc()
			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)
			httpInFlight.Dec()

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			httpRequests.WithLabelValues(route, method, statusClass(status)).Inc()
			httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())

			switch {
			case status >= 500:
				l.Error("http request failed",
					applogger.String("route", route),
					applogger.String("method", method),
					applogger.Int("status", status),
					applogger.Duration("elapsed", elapsed))
			case slow > 0 && elapsed >= slow:
				l.Warn("http request slow",
					applogger.String("route", route),
					applogger.String("method", method),
					applogger.Duration("elapsed", elapsed),
					applogger.Int64("bytes", c.Response().Size))
			}
			return err
		}
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
