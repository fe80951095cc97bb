package router

import (
	"net/http"
	"time"

	"stayflow/internal/handler"
	"stayflow/internal/middleware"
	"stayflow/internal/types"

	"github.com/gin-gonic/gin"
)

func NewRouter(
	serverHandler *handler.Server,
	configManager types.ConfigManager,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Register global middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Logger(configManager.GetLogConfig()))
	router.Use(middleware.CORS(configManager.GetCORSConfig()))
	router.Use(middleware.SecurityHeaders())
	startTime := time.Now()
	router.Use(func(c *gin.Context) {
		c.Set("serverStartTime", startTime)
		c.Next()
	})

	registerSystemRoutes(router, serverHandler)
	registerAPIRoutes(router, serverHandler, configManager)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
	})

	return router
}

// registerSystemRoutes registers system-level routes
func registerSystemRoutes(router *gin.Engine, serverHandler *handler.Server) {
	router.GET("/health", serverHandler.Health)
}

// registerAPIRoutes registers API routes
func registerAPIRoutes(
	router *gin.Engine,
	serverHandler *handler.Server,
	configManager types.ConfigManager,
) {
	api := router.Group("/api")
	api.Use(middleware.Auth(configManager.GetAuthConfig()))

	api.GET("/businessday", serverHandler.GetBusinessDay)

	schedulerGroup := api.Group("/scheduler")
	{
		schedulerGroup.GET("/status", serverHandler.GetSchedulerStatus)

		autoCheckout := schedulerGroup.Group("/auto-checkout")
		{
			autoCheckout.POST("/run", serverHandler.RunAutoCheckout)
			autoCheckout.GET("/upcoming", serverHandler.GetUpcomingCheckouts)
			autoCheckout.POST("/simulate/:checkinID", serverHandler.SimulateAutoCheckout)
			autoCheckout.GET("/statistics", serverHandler.GetAutoCheckoutStatistics)
		}

		notifications := schedulerGroup.Group("/notifications")
		{
			notifications.POST("/run", serverHandler.RunNotifications)
		}
	}
}
