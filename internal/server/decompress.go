package server

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/labstack/echo/v4"

	"chatgate/internal/core"
)

// Decompress returns a middleware that transparently inflates gzip and
// brotli request bodies before binding. The inflated stream is capped at
// maxBody bytes so a small compressed payload cannot balloon past the
// configured body limit.
func Decompress(maxBody int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			encoding := strings.ToLower(strings.TrimSpace(req.Header.Get(echo.HeaderContentEncoding)))

			switch encoding {
			case "", "identity":
				return next(c)

			case "gzip":
				zr, err := gzip.NewReader(req.Body)
				if err != nil {
					return handleError(c, core.NewInvalidRequestError("malformed gzip request body", err))
				}
				defer zr.Close()
				req.Body = io.NopCloser(io.LimitReader(zr, maxBody))

			case "br":
				req.Body = io.NopCloser(io.LimitReader(brotli.NewReader(req.Body), maxBody))

			default:
				return handleError(c, core.NewInvalidRequestErrorWithStatus(
					http.StatusUnsupportedMediaType,
					fmt.Sprintf("unsupported content encoding %q", encoding), nil))
			}

			// The decompressed length is unknown; drop the stale headers
			// so binding reads to EOF.
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			req.ContentLength = -1

			return next(c)
		}
	}
}
