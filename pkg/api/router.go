// Package api exposes the remediation core over HTTP.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimburion/dlqmanager/pkg/config"
	"github.com/nimburion/dlqmanager/pkg/health"
	"github.com/nimburion/dlqmanager/pkg/observability/logger"
	"github.com/nimburion/dlqmanager/pkg/observability/metrics"
	"github.com/nimburion/dlqmanager/pkg/remediation"
)

// Options configures the router.
type Options struct {
	ServiceName    string
	CORS           config.CORSConfig
	MaxRequestSize int64
	RateLimit      config.RateLimitConfig
	// ActionTimeout bounds each redrive or purge call. Zero means no deadline.
	ActionTimeout time.Duration
	// RequestValidation checks /dlqs requests against the OpenAPI document:
	// "strict", "warn-only", or "off" (the default when empty).
	RequestValidation string
}

// Dependencies are the components served by the router. Health and Metrics are optional.
type Dependencies struct {
	Catalog    *remediation.Catalog
	Controller *remediation.Controller
	Health     *health.Registry
	Metrics    *metrics.Registry
	Logger     logger.Logger
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(opts Options, deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	engine := gin.New()
	engine.Use(requestID(), recovery(log), tracing(), requestLogging(log))
	if deps.Metrics != nil {
		engine.Use(requestMetrics(deps.Metrics.HTTP()))
	}
	engine.Use(cors(opts.CORS), maxBodySize(opts.MaxRequestSize))

	h := &handlers{
		catalog:       deps.Catalog,
		controller:    deps.Controller,
		actionTimeout: opts.ActionTimeout,
		serviceName:   opts.ServiceName,
		log:           log,
	}

	dlqs := engine.Group("/dlqs")
	if opts.RateLimit.Enabled {
		dlqs.Use(rateLimit(newTokenBucketLimiter(opts.RateLimit.RequestsPerSecond, opts.RateLimit.Burst)))
	}
	doc := mustDocument()
	if mode := strings.ToLower(strings.TrimSpace(opts.RequestValidation)); mode != "" && mode != ValidationModeOff {
		validate, err := requestValidation(doc, mode, log)
		if err != nil {
			panic(err)
		}
		dlqs.Use(validate)
	}
	dlqs.GET("", h.listQueues)
	dlqs.POST("/redrive", h.action(remediation.ActionRedrive))
	dlqs.POST("/purge", h.action(remediation.ActionPurge))
	dlqs.GET("/results", h.results)

	engine.GET("/healthz", healthHandler(deps.Health))
	engine.GET("/version", h.version)
	yamlDoc, jsonDoc := serveDocument(doc)
	engine.GET("/openapi.yaml", yamlDoc)
	engine.GET("/openapi.json", jsonDoc)
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "not_found",
			Code:      "route_not_found",
			Message:   "route not found",
			RequestID: logger.RequestIDFromContext(c.Request.Context()),
		})
	})
	return engine
}

func healthHandler(registry *health.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if registry == nil {
			c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy})
			return
		}
		result := registry.Check(c.Request.Context())
		status := http.StatusOK
		if result.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	}
}
