package router

import (
	"github.com/gin-gonic/gin"

	"postdeck.app/connect/internal/http/handler"
)

// CallbackRouter is public: the provider redirects the browser here.
func CallbackRouter(rg *gin.RouterGroup, h *handler.InstagramHandler) {
	rg.GET("/callback", h.Callback)
}

func ConnectRouter(rg *gin.RouterGroup, h *handler.InstagramHandler) {
	rg.POST("/exchange", h.Exchange)
	rg.GET("/:state/wait", h.Wait)
}

func ClientRouter(rg *gin.RouterGroup, ig *handler.InstagramHandler, conn *handler.ConnectionHandler) {
	rg.POST("/authorize", ig.Authorize)

	rg.GET("", conn.Get)
	rg.DELETE("", conn.Delete)
	rg.GET("/health", conn.Health)
	rg.GET("/profile", conn.Profile)

	rg.GET("/picture", conn.Picture)
	rg.POST("/picture/refresh", conn.RefreshPicture)
	rg.POST("/picture/failed", conn.PictureFailed)
	rg.POST("/picture/loaded", conn.PictureLoaded)
}
