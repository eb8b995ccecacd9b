// handlers_health.go - Health check handlers
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	jobs    JobSource
	workers int
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, jobs JobSource, workers int) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		jobs:    jobs,
		workers: workers,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"active_jobs": h.jobs.ActiveCount(),
		"workers":     h.workers,
		"version":     h.version,
	})
}
