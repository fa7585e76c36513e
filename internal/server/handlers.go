// Package server provides the HTTP surface of the chat gateway: bearer
// authentication, the streaming chat relay, and the models, user, and
// health endpoints.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"chatgate/internal/auditlog"
	"chatgate/internal/core"
	"chatgate/internal/usage"
)

// Handler holds the HTTP handlers.
type Handler struct {
	registry core.AdapterRegistry
}

// NewHandler creates a handler over the given adapter registry.
func NewHandler(registry core.AdapterRegistry) *Handler {
	return &Handler{registry: registry}
}

// Chat handles POST /chat. It resolves the provider adapter, validates
// the model, and relays the upstream fragment stream to the client as
// chunked text/plain with a flush per fragment. Once the first fragment
// is written the status is fixed; an upstream failure after that point
// simply ends the response.
func (h *Handler) Chat(c echo.Context) error {
	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, bindError(err))
	}
	req.ApplyDefaults()
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))

	credential, err := h.registry.ResolveCredential(req.Provider, req.APIKey)
	if err != nil {
		return handleError(c, err)
	}

	adapter, err := h.registry.CreateAdapter(req.Provider, credential)
	if err != nil {
		return handleError(c, err)
	}

	if !adapter.IsModelSupported(req.Model) {
		return handleError(c, core.NewInvalidRequestError(
			fmt.Sprintf("model %q is not supported by provider %q (supported: %s)",
				req.Model, req.Provider, strings.Join(adapter.SupportedModels(), ", ")), nil))
	}

	auditlog.EnrichEntry(c, req.Model, req.Provider)

	stream, err := adapter.StreamChatCompletion(
		c.Request().Context(), req.BuildMessages(), req.Model, core.DefaultMaxTokens)
	if err != nil {
		observeChatStream(req.Provider, outcomeError)
		return handleError(c, err)
	}

	stats := usage.NewStreamStats(stream)
	defer stats.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	resp.WriteHeader(http.StatusOK)

	relayErr := relayFragments(resp, stats)

	auditlog.EnrichEntryWithStream(c, stats.Stats())
	if relayErr != nil {
		slog.Warn("chat stream aborted",
			"request_id", core.GetRequestID(c.Request().Context()),
			"provider", req.Provider,
			"error", relayErr,
		)
		auditlog.EnrichEntryWithError(c, string(core.ErrorTypeProvider), relayErr.Error())
		observeChatStream(req.Provider, outcomeAborted)
		return nil
	}

	observeChatStream(req.Provider, outcomeCompleted)
	return nil
}

// relayFragments copies the stream to the client one Read at a time.
// Each Read carries at most one upstream fragment, so flushing per
// iteration keeps the client exactly as far along as the upstream.
func relayFragments(w *echo.Response, stream io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			w.Flush()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Models handles GET /models.
func (h *Handler) Models(c echo.Context) error {
	return c.JSON(http.StatusOK, h.registry.AllModels())
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// User handles GET /user. It returns the selected claims of the
// validated token; claims the token does not carry come back as null.
func (h *Handler) User(c echo.Context) error {
	claims := ClaimsFromContext(c)
	if claims == nil {
		return handleError(c, core.NewAuthenticationError("", authFailedMessage))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"sub":                claims["sub"],
		"name":               claims["name"],
		"email":              claims["email"],
		"preferred_username": claims["preferred_username"],
		"login_user_name":    claims["login_user_name"],
		"given_name":         claims["given_name"],
		"family_name":        claims["family_name"],
	})
}

// bindError classifies a request binding failure. Body-limit rejections
// keep their 413 status; everything else is a plain invalid request.
func bindError(err error) error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) && httpErr.Code == http.StatusRequestEntityTooLarge {
		return core.NewInvalidRequestErrorWithStatus(
			http.StatusRequestEntityTooLarge, "request body too large", err)
	}
	return core.NewInvalidRequestError("invalid request body: "+err.Error(), err)
}

// handleError converts gateway errors to HTTP responses and records
// them on the request's audit entry.
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		auditlog.EnrichEntryWithError(c, string(gatewayErr.Type), gatewayErr.Message)
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	slog.Error("unexpected handler error",
		"request_id", core.GetRequestID(c.Request().Context()),
		"error", err,
	)
	auditlog.EnrichEntryWithError(c, "internal_error", "an unexpected error occurred")
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
