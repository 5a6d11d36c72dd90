// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	viewers ViewerManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, viewers ViewerManager) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		viewers: viewers,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.viewers != nil {
		resp["viewers"] = h.viewers.Count()
	}
	return c.JSON(http.StatusOK, resp)
}
