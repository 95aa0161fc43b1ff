package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// NewErrorHandler returns an Echo HTTPErrorHandler that renders every error as
// {"error": "<message>"}, the same shape the relay handler uses.
func NewErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := err.Error()

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		}
		// The router rejects methods it has no route for before the relay
		// handler runs; keep the relay's wording for those.
		if code == http.StatusMethodNotAllowed {
			msg = MsgMethodNotAllowed
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, errorBody(msg))
		}
		if werr != nil {
			logger.Error("write error response", "err", werr)
		}
	}
}
