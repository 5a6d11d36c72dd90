// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/qms-portal/docpreview/internal/logger"
	"github.com/qms-portal/docpreview/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store       storage.Store
	Viewers     ViewerManager
	Conversions ConversionManager
	Stats       StatsSource
	Metrics     http.Handler
	Log         *logger.Logger
	Version     string

	AllowFileDeletion bool
	RequireSignedURLs bool
	WSMaxMessageSize  int64
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Documents DocumentHandler
	Files     FileHandler
	Preview   PreviewHandler
	Convert   ConvertHandler
	WebSocket *WebSocketHandler
	Metrics   http.Handler

	allowDeletion bool
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:        NewHealthHandler(deps.Version, deps.Viewers),
		Documents:     NewDocumentHandler(deps.Store, deps.Conversions, deps.Log),
		Files:         NewFileHandler(deps.Store, deps.RequireSignedURLs),
		Preview:       NewPreviewHandler(deps.Viewers, deps.Stats, deps.Log),
		Convert:       NewConvertHandler(deps.Store, deps.Conversions),
		WebSocket:     NewWebSocketHandler(deps.Viewers, deps.WSMaxMessageSize, deps.Log),
		Metrics:       deps.Metrics,
		allowDeletion: deps.AllowFileDeletion,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Documents
	apiGroup.POST("/documents", handlers.Documents.HandleUploadDocument)
	apiGroup.GET("/documents", handlers.Documents.HandleListDocuments)
	apiGroup.GET("/documents/:id", handlers.Documents.HandleGetDocument)

	// Conditional delete based on config
	if handlers.allowDeletion {
		apiGroup.DELETE("/documents/:id", handlers.Documents.HandleDeleteDocument)
		apiGroup.DELETE("/records/:recordId/documents", handlers.Documents.HandleDeleteRecordDocuments)
	}

	// Conversion
	apiGroup.POST("/documents/:id/convert", handlers.Convert.HandleStartConversion)
	apiGroup.GET("/documents/:id/pdf", handlers.Convert.HandleGetConvertedPDF)
	apiGroup.GET("/convert/:jobId", handlers.Convert.HandleGetConversion)

	// Preview viewers
	apiGroup.POST("/preview", handlers.Preview.HandleStartPreview)
	apiGroup.GET("/preview/stats", handlers.Preview.HandlePreviewStats)
	apiGroup.GET("/preview/:viewerId", handlers.Preview.HandleGetPreview)
	apiGroup.GET("/preview/:viewerId/msgpack", handlers.Preview.HandleGetPreviewMsgpack)
	apiGroup.GET("/preview/:viewerId/open", handlers.Preview.HandleOpenExternally)
	apiGroup.POST("/preview/:viewerId/error", handlers.Preview.HandleReportError)
	apiGroup.DELETE("/preview/:viewerId", handlers.Preview.HandleClosePreview)

	// WebSocket endpoint
	apiGroup.GET("/ws/preview", handlers.WebSocket.HandleWebSocket)

	// Document blobs, fetched by hosted viewers and the existence check
	e.Match([]string{http.MethodGet, http.MethodHead}, "/files/:name", handlers.Files.HandleServeFile)

	if handlers.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(handlers.Metrics))
	}
}

// MiddlewareConfig selects the common middleware
type MiddlewareConfig struct {
	Log               *logger.Logger
	RequestLogging    bool
	BodyLimit         string
	EnableCORS        bool
	AllowOrigins      []string
	RequestsPerSecond float64
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	e.HTTPErrorHandler = ErrorHandler

	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	httpLog := log.Component("http")

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.RequestLogging {
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
				httpLog.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			httpLog.Debug("request", attrs...)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			httpLog.Error("handler panicked", "error", err, "stack", string(stack))
			return err
		},
	}))

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.EnableCORS {
		origins := cfg.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond * 2)
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			// Viewer fetches of /files and the socket are not throttled.
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return !strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/api/ws/")
			},
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RequestsPerSecond),
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			}),
			ErrorHandler: func(c echo.Context, err error) error {
				return NewBadRequestError("cannot identify client", err)
			},
			DenyHandler: func(c echo.Context, identifier string, err error) error {
				return &APIError{
					Status:  http.StatusTooManyRequests,
					Code:    "RATE_LIMITED",
					Message: "too many requests",
				}
			},
		}))
	}
}

// SplitOrigins parses a comma separated origin list
func SplitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
