package router

import (
	"github.com/gin-gonic/gin"

	"postdeck.app/connect/internal/http/handler"
	"postdeck.app/connect/internal/http/middleware"
	"postdeck.app/connect/internal/service"
)

type RouterConfig struct {
	DashboardURL       string
	AdminAPIKey        string
	RateLimitPerMinute int
}

func SetupRoutes(router *gin.Engine, services *service.Services, cache handler.PictureCache, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)
	instagramHandler := handler.NewInstagramHandler(services.Instagram(), cfg.DashboardURL)
	CallbackRouter(router.Group("/auth/instagram", limiter.Handler()), instagramHandler)

	v1 := router.Group("/api/v1", middleware.RequireAPIKey(cfg.AdminAPIKey))
	{
		connectionHandler := handler.NewConnectionHandler(services.Connections(), cache)
		ClientRouter(v1.Group("/clients/:client_id/instagram"), instagramHandler, connectionHandler)

		ConnectRouter(v1.Group("/connect", limiter.Handler()), instagramHandler)

		selectionHandler := handler.NewSelectionHandler(services.Instagram())
		SelectionRouter(v1.Group("/selections/:id"), selectionHandler)

		v1.GET("/cache/stats", connectionHandler.CacheStats)
	}
}
