package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// CORS values advertised to browsers. Any origin is accepted.
const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
)

// CORS returns an Echo middleware that sets Access-Control-Allow-Origin on
// every response before the handler runs, so success, error and framework
// generated responses all carry it. Preflight (OPTIONS) responses also get
// the allowed methods and headers.
//
// Echo's own CORS middleware skips requests without an Origin header, which
// would leave non-browser callers without the header.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, corsAllowOrigin)
			if c.Request().Method == http.MethodOptions {
				h.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
				h.Set(echo.HeaderAccessControlAllowHeaders, corsAllowHeaders)
			}
			return next(c)
		}
	}
}

// SecurityHeaders returns an Echo middleware that adds security headers to
// every response.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderXContentTypeOptions, "nosniff")
			h.Set(echo.HeaderXFrameOptions, "DENY")
			return next(c)
		}
	}
}
