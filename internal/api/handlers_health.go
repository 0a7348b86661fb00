// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version  string
	tables   *TableCatalog
	sessions SessionManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, tables *TableCatalog, sessions SessionManager) HealthHandler {
	return &HealthHandlerImpl{
		version:  version,
		tables:   tables,
		sessions: sessions,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	running := 0
	if h.sessions != nil {
		for _, s := range h.sessions.List() {
			if !s.Status.Finished() {
				running++
			}
		}
	}
	tables := 0
	if h.tables != nil {
		tables = h.tables.Len()
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"version":         h.version,
		"tables":          tables,
		"runningSessions": running,
	})
}
