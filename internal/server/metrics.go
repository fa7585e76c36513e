package server

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat stream outcomes.
const (
	outcomeCompleted = "completed"
	outcomeAborted   = "aborted"
	outcomeError     = "error"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatgate_requests_total",
		Help: "HTTP requests handled, by method, route, and status code.",
	}, []string{"method", "route", "status"})

	// Streams can run for minutes, so the buckets reach well past the
	// default 10s ceiling.
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatgate_request_duration_seconds",
		Help:    "Request duration in seconds, by method and route.",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"method", "route"})

	chatStreamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatgate_chat_streams_total",
		Help: "Chat streams relayed, by provider and outcome.",
	}, []string{"provider", "outcome"})
)

func observeChatStream(provider, outcome string) {
	chatStreamsTotal.WithLabelValues(provider, outcome).Inc()
}

// MetricsMiddleware records request counts and durations. Requests are
// labeled with the matched route pattern, not the raw path, so label
// cardinality stays bounded.
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			requestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Response().Status)).Inc()
			requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
