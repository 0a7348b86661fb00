// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/midi-sniffer/backend/internal/models"
	"github.com/midi-sniffer/backend/internal/session"
	"github.com/midi-sniffer/backend/internal/storage"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// TableHandler handles mapping table uploads and inspection
type TableHandler interface {
	HandleUploadTable(c echo.Context) error
	HandleRecentTables(c echo.Context) error
	HandleGetTable(c echo.Context) error
	HandleResolve(c echo.Context) error
	HandleColumns(c echo.Context) error
	HandleDeleteTable(c echo.Context) error
}

// CaptureHandler handles capture file uploads
type CaptureHandler interface {
	HandleUploadCapture(c echo.Context) error
	HandleRecentCaptures(c echo.Context) error
}

// SessionHandler handles monitoring session operations
type SessionHandler interface {
	HandleStartSession(c echo.Context) error
	HandleListSessions(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleSessionSummaries(c echo.Context) error
	HandleSessionSummariesMsgpack(c echo.Context) error
	HandleSessionFunctions(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
	HandleStopSession(c echo.Context) error
}

// StreamHandler streams a session's summaries over WebSocket
type StreamHandler interface {
	HandleSessionStream(c echo.Context) error
}

// SessionManager defines the interface for session management.
// This allows for mocking in tests.
type SessionManager interface {
	Start(req session.StartRequest) (*models.MonitorSession, error)
	Get(id string) (models.MonitorSession, bool)
	List() []models.MonitorSession
	Recent(id string) (*session.Recent, bool)
	TouchSession(id string) bool
	Stop(ctx context.Context, id string) error
}

// SummaryStore is the recorded-summary query surface.
type SummaryStore interface {
	Query(ctx context.Context, sessionID, function string, limit int) ([]models.Summary, error)
	FunctionCounts(ctx context.Context, sessionID string) ([]storage.FunctionCount, error)
}

var (
	_ SessionManager = (*session.Manager)(nil)
	_ SummaryStore   = (*storage.EventStore)(nil)
)
