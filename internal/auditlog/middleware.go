package auditlog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"chatgate/internal/core"
	"chatgate/internal/usage"
)

// Middleware creates an echo middleware that opens an audit entry before
// the handler runs and writes it once the response is done. Handlers
// enrich the entry through the Enrich helpers.
func Middleware(logger LoggerInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if logger == nil || !logger.Config().Enabled {
				return next(c)
			}
			if !auditedPath(c.Request().URL.Path) {
				return next(c)
			}

			start := time.Now()
			req := c.Request()

			// The request ID middleware runs first and puts the ID in the
			// request context. Mint one here only if it did not.
			requestID := core.GetRequestID(req.Context())
			if requestID == "" {
				requestID = req.Header.Get("X-Request-ID")
			}
			if requestID == "" {
				requestID = uuid.NewString()
			}

			entry := &LogEntry{
				ID:        uuid.NewString(),
				Timestamp: start,
				RequestID: requestID,
				Method:    req.Method,
				Path:      req.URL.Path,
				Data: &LogData{
					ClientIP:  c.RealIP(),
					UserAgent: req.UserAgent(),
				},
			}
			c.Set(string(LogEntryKey), entry)

			err := next(c)
			if err != nil {
				// Resolve the error now so the entry records the status
				// the client actually receives. The global error handler
				// skips committed responses, so this does not double-write.
				c.Error(err)
			}

			entry.DurationNs = time.Since(start).Nanoseconds()
			entry.StatusCode = c.Response().Status
			logger.Write(entry)

			return err
		}
	}
}

// auditedPath reports whether requests to path belong in the audit trail.
// Health probes and metrics scrapes are noise.
func auditedPath(path string) bool {
	switch path {
	case "/health", "/metrics":
		return false
	}
	return true
}

func entryFromContext(c echo.Context) *LogEntry {
	entry, ok := c.Get(string(LogEntryKey)).(*LogEntry)
	if !ok {
		return nil
	}
	return entry
}

// EnrichEntry records which model and provider served the request.
func EnrichEntry(c echo.Context, model, provider string) {
	entry := entryFromContext(c)
	if entry == nil {
		return
	}
	entry.Model = model
	entry.Provider = provider
}

// EnrichEntryWithUser records the authenticated subject.
func EnrichEntryWithUser(c echo.Context, subject string) {
	entry := entryFromContext(c)
	if entry == nil || entry.Data == nil {
		return
	}
	entry.Data.UserSubject = subject
}

// EnrichEntryWithStream folds the relay counters into the entry after the
// stream finishes. Token counts are recorded only when the upstream
// reported them.
func EnrichEntryWithStream(c echo.Context, stats usage.Stats) {
	entry := entryFromContext(c)
	if entry == nil || entry.Data == nil {
		return
	}
	entry.Data.Fragments = stats.Fragments
	entry.Data.StreamBytes = stats.Bytes
	entry.Data.ContentDigest = fmt.Sprintf("%016x", stats.Digest)
	if stats.TokensSeen {
		entry.Data.InputTokens = stats.Tokens.InputTokens
		entry.Data.OutputTokens = stats.Tokens.OutputTokens
		entry.Data.TotalTokens = stats.Tokens.TotalTokens
	}
}

// EnrichEntryWithError records the error class and message for a failed
// request.
func EnrichEntryWithError(c echo.Context, errorType, errorMessage string) {
	entry := entryFromContext(c)
	if entry == nil {
		return
	}
	entry.ErrorType = errorType
	if entry.Data != nil {
		entry.Data.ErrorMessage = errorMessage
	}
}
