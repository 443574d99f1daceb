package router

import (
	"github.com/gin-gonic/gin"

	"postdeck.app/connect/internal/http/handler"
)

func SelectionRouter(rg *gin.RouterGroup, h *handler.SelectionHandler) {
	rg.GET("", h.Get)
	rg.POST("/load", h.Load)
	rg.POST("/select", h.Select)
	rg.POST("/cancel", h.Cancel)
}
