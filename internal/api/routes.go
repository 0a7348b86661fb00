// routes.go - Route registration helpers
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/midi-sniffer/backend/internal/capture"
	"github.com/midi-sniffer/backend/internal/config"
	"github.com/midi-sniffer/backend/internal/logging"
	"github.com/midi-sniffer/backend/internal/metrics"
	"github.com/midi-sniffer/backend/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store        storage.Store
	SessionMgr   SessionManager
	Tables       *TableCatalog
	Registry     *capture.Registry
	Summaries    SummaryStore
	DefaultSpeed float64
	StreamBuffer int
	Gatherer     prometheus.Gatherer
	Logger       *slog.Logger
	Version      string
}

// Handlers holds all handler instances
type Handlers struct {
	Health   HealthHandler
	Tables   TableHandler
	Captures CaptureHandler
	Sessions SessionHandler
	Stream   StreamHandler

	gatherer prometheus.Gatherer
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	registry := deps.Registry
	if registry == nil {
		registry = capture.NewRegistry()
	}
	return &Handlers{
		Health:   NewHealthHandler(deps.Version, deps.Tables, deps.SessionMgr),
		Tables:   NewTableHandler(deps.Store, deps.Tables),
		Captures: NewCaptureHandler(deps.Store, registry),
		Sessions: NewSessionHandler(deps.Store, deps.SessionMgr, deps.Tables, registry, deps.Summaries, deps.DefaultSpeed),
		Stream:   NewWebSocketHandler(deps.SessionMgr, deps.StreamBuffer, deps.Logger),
		gatherer: deps.Gatherer,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/health", handlers.Health.HandleHealth)

	tableGroup := e.Group("/api/tables")
	tableGroup.POST("", handlers.Tables.HandleUploadTable)
	tableGroup.GET("/recent", handlers.Tables.HandleRecentTables)
	tableGroup.GET("/:id", handlers.Tables.HandleGetTable)
	tableGroup.GET("/:id/resolve", handlers.Tables.HandleResolve)
	tableGroup.GET("/:id/columns", handlers.Tables.HandleColumns)
	tableGroup.DELETE("/:id", handlers.Tables.HandleDeleteTable)

	captureGroup := e.Group("/api/captures")
	captureGroup.POST("", handlers.Captures.HandleUploadCapture)
	captureGroup.GET("/recent", handlers.Captures.HandleRecentCaptures)

	sessionGroup := e.Group("/api/sessions")
	sessionGroup.POST("", handlers.Sessions.HandleStartSession)
	sessionGroup.GET("", handlers.Sessions.HandleListSessions)
	sessionGroup.GET("/:id", handlers.Sessions.HandleGetSession)
	sessionGroup.GET("/:id/summaries", handlers.Sessions.HandleSessionSummaries)
	sessionGroup.GET("/:id/summaries/msgpack", handlers.Sessions.HandleSessionSummariesMsgpack)
	sessionGroup.GET("/:id/functions", handlers.Sessions.HandleSessionFunctions)
	sessionGroup.POST("/:id/keepalive", handlers.Sessions.HandleSessionKeepAlive)
	sessionGroup.DELETE("/:id", handlers.Sessions.HandleStopSession)
	sessionGroup.GET("/:id/ws", handlers.Stream.HandleSessionStream)

	if handlers.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler(handlers.gatherer)))
	}
}

// SetupMiddleware configures error handling, request logging, recovery,
// timeouts, body limit and CORS from the server configuration.
func SetupMiddleware(e *echo.Echo, cfg *config.AppConfig, logger *slog.Logger) {
	e.HTTPErrorHandler = ErrorHandler
	log := logging.Component(logger, "http")

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || path == "/metrics"
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				log.Warn("request", append(attrs, "error", v.Error)...)
				return nil
			}
			log.Info("request", attrs...)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error("handler panic", "path", c.Path(), "error", err, "stack", string(stack))
			return err
		},
	}))

	if cfg.Server.ReadTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasSuffix(path, "/ws") || c.Request().Method == http.MethodDelete
			},
			ErrorMessage: "Request timeout",
		}))
	}

	if cfg.Server.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	}

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		}))
	}
}
