package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"chatgate/internal/auditlog"
	"chatgate/internal/core"
	"chatgate/internal/oidc"
)

// authFailedMessage is the one message every authentication failure
// returns. Clients are not told why a token was rejected; the reason
// goes to the server log.
const authFailedMessage = "invalid or expired token"

type contextKey string

// claimsKey is the echo context key BearerAuth stores verified claims
// under.
const claimsKey contextKey = "oidc_claims"

// TokenValidator verifies a raw bearer token and returns its claims.
// *oidc.Validator implements it.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (oidc.Claims, error)
}

// BearerAuth returns a middleware that guards a route with bearer-token
// authentication. On success the verified claims land in the echo
// context and the subject in the request context.
func BearerAuth(validator TokenValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				return unauthorized(c)
			}

			claims, err := validator.Validate(c.Request().Context(), token)
			if err != nil {
				if errors.Is(err, oidc.ErrDiscoveryUnavailable) {
					slog.Error("identity provider unreachable",
						"request_id", core.GetRequestID(c.Request().Context()),
						"error", err,
					)
				} else {
					slog.Debug("bearer token rejected",
						"request_id", core.GetRequestID(c.Request().Context()),
						"error", err,
					)
				}
				return unauthorized(c)
			}

			ctx := core.WithUserSubject(c.Request().Context(), claims.Subject())
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(string(claimsKey), claims)
			auditlog.EnrichEntryWithUser(c, claims.Subject())

			return next(c)
		}
	}
}

// bearerToken extracts the token from an Authorization header value.
// The scheme comparison is case-insensitive per RFC 6750.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func unauthorized(c echo.Context) error {
	auditlog.EnrichEntryWithError(c, string(core.ErrorTypeAuthentication), authFailedMessage)
	c.Response().Header().Set("WWW-Authenticate", "Bearer")
	return c.JSON(http.StatusUnauthorized, core.NewAuthenticationError("", authFailedMessage).ToJSON())
}

// ClaimsFromContext returns the claims stored by BearerAuth, or nil on
// an unauthenticated route.
func ClaimsFromContext(c echo.Context) oidc.Claims {
	claims, _ := c.Get(string(claimsKey)).(oidc.Claims)
	return claims
}
