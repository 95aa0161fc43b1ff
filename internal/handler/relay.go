package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"workflow-relay/internal/service"
)

// Fixed error messages returned to callers.
const (
	MsgMethodNotAllowed = "Method not allowed"
	MsgNotConfigured    = "Missing API_URL or RETOOL_KEY env vars"
)

// Authorizer decides whether an inbound caller may use the relay. It runs
// after method dispatch, so CORS preflights are never subject to it.
// A non-nil error is returned to Echo as is; use *echo.HTTPError to choose
// the status code.
type Authorizer interface {
	Authorize(c echo.Context) error
}

// AllowAll is the default Authorizer: every caller is accepted.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(echo.Context) error { return nil }

// RelayHandler forwards POSTed payloads to the workflow endpoint and reflects
// the reply.
type RelayHandler struct {
	service *service.RelayService
	auth    Authorizer
	logger  *slog.Logger
}

// NewRelayHandler creates a RelayHandler. A nil auth accepts every caller.
func NewRelayHandler(svc *service.RelayService, auth Authorizer, logger *slog.Logger) *RelayHandler {
	if auth == nil {
		auth = AllowAll{}
	}
	return &RelayHandler{
		service: svc,
		auth:    auth,
		logger:  logger.With("component", "relay_handler"),
	}
}

// Handle answers CORS preflights, rejects everything but POST, and relays
// POST bodies upstream. CORS headers are set by middleware.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()

	switch req.Method {
	case http.MethodOptions:
		return c.NoContent(http.StatusNoContent)
	case http.MethodPost:
	default:
		return c.JSON(http.StatusMethodNotAllowed, errorBody(MsgMethodNotAllowed))
	}

	if err := h.auth.Authorize(c); err != nil {
		return err
	}

	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return h.mapError(c, fmt.Errorf("read request body: %w", err))
	}

	resp, err := h.service.Forward(req.Context(), raw)
	if err != nil {
		return h.mapError(c, err)
	}

	if !bodyAllowed(resp.StatusCode) {
		return c.NoContent(resp.StatusCode)
	}
	return c.JSONBlob(resp.StatusCode, resp.Body)
}

func (h *RelayHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrNotConfigured) {
		h.logger.Error("relay not configured; set API_URL and RETOOL_KEY")
		return c.JSON(http.StatusInternalServerError, errorBody(MsgNotConfigured))
	}

	// Body limit violations surface while reading; keep their status.
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	if errors.Is(err, context.Canceled) {
		h.logger.Warn("client disconnected, upstream call aborted", "err", err)
	} else {
		h.logger.Error("relay error", "err", err)
	}

	return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// bodyAllowed reports whether a response with the given status may carry a body.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
