package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/clipsight/clipsight-backend/internal/handlers"
	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/utils"
)

type RouterConfig struct {
	Log           *logger.Logger
	VideoHandler  *handlers.VideoHandler
	SearchHandler *handlers.SearchHandler
	DebugHandler  *handlers.DebugHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	allowOrigins := strings.Split(utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173", cfg.Log), ",")

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	v1 := router.Group("/v1")
	{
		// Videos
		v1.POST("/videos/upload", cfg.VideoHandler.Upload)
		v1.GET("/videos", cfg.VideoHandler.List)
		v1.GET("/videos/:id", cfg.VideoHandler.Get)
		v1.DELETE("/videos/:id", cfg.VideoHandler.Delete)
		// Search
		v1.POST("/search", cfg.SearchHandler.Search)
	}

	debug := router.Group("/debug")
	{
		debug.GET("/pool-stats", cfg.DebugHandler.PoolStats)
		debug.GET("/pool-health", cfg.DebugHandler.PoolHealth)
		debug.GET("/test-connection", cfg.DebugHandler.TestConnection)
	}

	return router
}
