package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workflow-relay/internal/config"
	"workflow-relay/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The relay route accepts every method so non-POST requests get the relay's
// own 405 body rather than Echo's.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, relay *RelayHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/relay/status", health.Status)

	e.Any(cfg.Server.RelayPath, relay.Handle)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
