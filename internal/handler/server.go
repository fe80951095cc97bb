// Package handler contains the HTTP handlers for the admin API.
package handler

import (
	"time"

	"stayflow/internal/businessday"
	"stayflow/internal/scheduler"
	"stayflow/internal/store"
	"stayflow/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/dig"
	"gorm.io/gorm"
)

// Server aggregates the handler dependencies.
type Server struct {
	DB            *gorm.DB
	Storage       store.Store
	ConfigManager types.ConfigManager
	Calendar      *businessday.Calculator
	AutoCheckout  *scheduler.AutoCheckoutScheduler
	Notifications *scheduler.NotificationDispatcher
}

// ServerParams defines the dependencies for the Server handler.
type ServerParams struct {
	dig.In
	DB            *gorm.DB
	Storage       store.Store
	ConfigManager types.ConfigManager
	Calendar      *businessday.Calculator
	AutoCheckout  *scheduler.AutoCheckoutScheduler
	Notifications *scheduler.NotificationDispatcher
}

// NewServer creates a new Server handler instance.
func NewServer(params ServerParams) *Server {
	return &Server{
		DB:            params.DB,
		Storage:       params.Storage,
		ConfigManager: params.ConfigManager,
		Calendar:      params.Calendar,
		AutoCheckout:  params.AutoCheckout,
		Notifications: params.Notifications,
	}
}

// Health handles the health check endpoint.
func (s *Server) Health(c *gin.Context) {
	status := "healthy"
	httpStatus := 200

	sqlDB, err := s.DB.DB()
	if err != nil || sqlDB.Ping() != nil {
		status = "unhealthy"
		httpStatus = 503
	}

	uptime := ""
	if startTime, exists := c.Get("serverStartTime"); exists {
		if st, ok := startTime.(time.Time); ok {
			uptime = time.Since(st).Truncate(time.Second).String()
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    uptime,
	})
}
