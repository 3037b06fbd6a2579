package routes

import (
	"time"

	"teamspace/config"
	"teamspace/logger"
	"teamspace/metrics"
	"teamspace/orgs"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the engine with the global middleware chain and every route.
func NewRouter(cfg *config.Config, log *zap.Logger, h Handlers) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestID())
	r.Use(logger.Middleware(log))
	r.Use(metrics.Middleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", orgs.OrgHeader, logger.RequestIDHeader},
		ExposeHeaders:    []string{logger.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(RateLimit(time.Second, cfg.RateLimit.PerSecond))

	SetupRegularRoutes(r, cfg.Server.StaticDir)
	SetupWebSocketRoutes(r, h)
	SetupAPIRoutes(r, h, cfg)
	return r
}
