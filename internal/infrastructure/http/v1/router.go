// Package v1 provides HTTP API version 1.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"codealloc/internal/domain/auth"
	"codealloc/internal/infrastructure/http/v1/handlers"
	"codealloc/internal/infrastructure/http/v1/middleware"
	"codealloc/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// Engine allocates codes
	Engine handlers.Allocator

	// Registry manages prefixes
	Registry handlers.PrefixRegistry

	// Audit lists the audit log; nil when the backend keeps none
	Audit handlers.AuditReader

	// Health serves /health
	Health *handlers.HealthHandler

	// JWTValidator protects admin routes; nil leaves them open
	JWTValidator middleware.JWTValidator

	// Idempotency stores X-Idempotency-Key results; nil disables the middleware
	Idempotency middleware.IdempotencyStore

	// Metrics serves /metrics when set
	Metrics http.Handler

	// Debug enables gin debug mode
	Debug bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	if cfg.Health != nil {
		health := router.Group("/health")
		{
			health.GET("/live", cfg.Health.Live)
			health.GET("/ready", cfg.Health.Ready)
			health.GET("/info", cfg.Health.Info)
		}
	}

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	base := handlers.NewBaseHandler()
	v1 := router.Group("/api/v1")
	registerCodeRoutes(v1, base, cfg)
	registerAdminRoutes(v1, base, cfg)

	return router
}

// registerCodeRoutes registers allocation endpoints. A valid token is
// recorded as the actor but not required.
func registerCodeRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	codes := rg.Group("/codes")
	if cfg.JWTValidator != nil {
		codes.Use(middleware.OptionalAuth(cfg.JWTValidator))
	}

	handler := handlers.NewCodesHandler(base, cfg.Engine)

	// Validation is read-only and never goes through idempotency.
	codes.POST("/validate", handler.Validate)

	mutating := codes.Group("")
	if cfg.Idempotency != nil {
		mutating.Use(middleware.Idempotency(cfg.Idempotency))
	}
	mutating.POST("/allocate", handler.Allocate)
	mutating.POST("/allocate-batch", handler.AllocateBatch)
}

// registerAdminRoutes registers prefix administration endpoints.
func registerAdminRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	admin := rg.Group("/admin")
	if cfg.JWTValidator != nil {
		admin.Use(middleware.Auth(cfg.JWTValidator))
		admin.Use(middleware.RequireRole(auth.RoleAdmin))
	}

	handler := handlers.NewAdminHandler(base, cfg.Engine, cfg.Registry, cfg.Audit)

	prefixes := admin.Group("/prefixes")
	{
		prefixes.GET("/:kind", handler.GetPrefix)
		prefixes.PUT("/:kind", handler.UpdatePrefix)
		prefixes.GET("/:kind/history", handler.History)
	}
	admin.GET("/sequences", handler.Sequence)
	admin.PUT("/sequences", handler.AdvanceSequence)
	admin.GET("/audit", handler.Audit)
}
