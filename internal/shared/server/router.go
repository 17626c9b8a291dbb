package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docgen-backend/internal/services/health"
	"docgen-backend/internal/shared/config"
	"docgen-backend/internal/shared/metrics"
	"docgen-backend/internal/shared/server/middleware"
	"docgen-backend/internal/shared/server/respond"
)

// RouteRegistrar is implemented by handlers that expose routes under /api/v1.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouterDeps are the handlers mounted by NewRouter.
type RouterDeps struct {
	Config  config.Config
	Tasks   RouteRegistrar
	Health  *health.Service
	Limiter *middleware.RateLimiter
}

// Rate limit groups.
const (
	groupSubmit  = "SUBMIT"
	groupPolling = "POLLING"
	groupDefault = "DEFAULT"
)

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}
	healthHandler := func(c *gin.Context) {
		report := healthSvc.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	}
	r.GET("/health", healthHandler)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		DefaultGroup: groupDefault,
		GroupFor:     rateLimitGroup,
		Limiter:      deps.Limiter,
		Rules: map[string]middleware.RateLimitRule{
			groupSubmit:  {Rate: 0.5, Burst: 10},
			groupPolling: {Rate: 5, Burst: 30},
			groupDefault: {Rate: 2, Burst: 20},
		},
	}))
	api.GET("/health", healthHandler)
	if deps.Tasks != nil {
		deps.Tasks.RegisterRoutes(api)
	}

	return r
}

func rateLimitGroup(c *gin.Context) string {
	if c.Request.Method == http.MethodPost {
		return groupSubmit
	}
	switch c.FullPath() {
	case "/api/v1/tasks/:id", "/api/v1/tasks/:id/result":
		return groupPolling
	}
	return groupDefault
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
