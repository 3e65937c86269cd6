package api

import (
	"log/slog"

	"beacon/internal/api/middleware"
	"beacon/internal/ewelink"

	"github.com/gin-gonic/gin"
)

// RouterConfig holds dependencies for the API router
type RouterConfig struct {
	Dispatcher    Dispatcher
	Sequencer     Sequencer
	Exchanger     Exchanger
	TokenStorage  ewelink.TokenStorage
	AlertDeviceID string
	RedirectURL   string
	APIKey        string
	Logger        *slog.Logger
}

// NewRouter creates and configures the Gin router
func NewRouter(config RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(config.Logger))
	router.Use(middleware.Logging(config.Logger))

	handlers := &Handlers{
		dispatcher:    config.Dispatcher,
		sequencer:     config.Sequencer,
		exchanger:     config.Exchanger,
		tokens:        config.TokenStorage,
		alertDeviceID: config.AlertDeviceID,
		redirectURL:   config.RedirectURL,
		logger:        config.Logger,
	}

	// Health check (no auth)
	router.GET("/health", handlers.GetHealth)

	// API v1 routes (with authentication)
	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyAuth(config.APIKey))
	{
		v1.POST("/alerts", handlers.TriggerAlert)
		v1.POST("/devices/:id/state", handlers.SetDeviceState)
		v1.POST("/auth/code", handlers.SubmitAuthCode)
		v1.GET("/auth/status", handlers.GetAuthStatus)
	}

	return router
}
