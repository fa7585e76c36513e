package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gbytes "github.com/labstack/gommon/bytes"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatgate/config"
	"chatgate/internal/auditlog"
	"chatgate/internal/core"
)

// Server wraps the echo server.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// New builds the HTTP server: middleware stack, routes, and error
// handling. /chat and /user sit behind bearer authentication; /models,
// /health, and /metrics are public.
func New(validator TokenValidator, registry core.AdapterRegistry, audit auditlog.LoggerInterface, cfg config.ServerConfig) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = httpErrorHandler

	handler := NewHandler(registry)

	bodyLimit := cfg.BodySizeLimit
	maxBody, err := gbytes.Parse(bodyLimit)
	if err != nil || maxBody <= 0 {
		bodyLimit = "25M"
		maxBody = 25 * gbytes.MB
	}

	// Order matters: the request ID must exist before anything logs,
	// and the audit middleware sits outside Recover so a panicking
	// request still produces an entry with its real status.
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := core.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", core.GetRequestID(c.Request().Context()),
			)
			return nil
		},
	}))
	e.Use(MetricsMiddleware())
	e.Use(auditlog.Middleware(audit))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(Decompress(maxBody))

	auth := BearerAuth(validator)

	e.GET("/health", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/models", handler.Models)
	e.POST("/chat", handler.Chat, auth)
	e.GET("/user", handler.User, auth)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler, allowing Server to be used with
// httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// httpErrorHandler renders every unhandled error in the gateway's error
// envelope. Handlers write their own responses; what lands here is
// echo's routing errors (404, 405), body-limit rejections, and panics
// surfaced by Recover.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		auditlog.EnrichEntryWithError(c, string(gatewayErr.Type), gatewayErr.Message)
		_ = c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
		return
	}

	code := http.StatusInternalServerError
	message := "an unexpected error occurred"
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		}
	}

	errType := "internal_error"
	switch {
	case code == http.StatusNotFound:
		errType = string(core.ErrorTypeNotFound)
	case code >= 400 && code < 500:
		errType = string(core.ErrorTypeInvalidRequest)
	}

	auditlog.EnrichEntryWithError(c, errType, message)
	_ = c.JSON(code, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	})
}
