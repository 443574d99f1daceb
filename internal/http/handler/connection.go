package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"postdeck.app/connect/internal/http/dto"
	"postdeck.app/connect/internal/service"
	"postdeck.app/connect/internal/urlcache"
)

// PictureCache is the slice of the URL cache the handlers use.
type PictureCache interface {
	Add(clientID, url string)
	Get(clientID string) (string, bool)
	IsExpired(clientID string) bool
	ForceRefresh(ctx context.Context, clientID string) (string, bool)
	ReportLoadFailure(ctx context.Context, clientID string) (string, bool)
	ReportLoadSuccess(clientID string)
	Stats() urlcache.Stats
}

type ConnectionHandler struct {
	connections service.ConnectionService
	cache       PictureCache
}

func NewConnectionHandler(connections service.ConnectionService, cache PictureCache) *ConnectionHandler {
	return &ConnectionHandler{connections: connections, cache: cache}
}

func (h *ConnectionHandler) Get(c *gin.Context) {
	conn, err := h.connections.Get(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToConnectionResponse(conn))
}

func (h *ConnectionHandler) Delete(c *gin.Context) {
	if err := h.connections.Remove(c.Request.Context(), c.Param("client_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Health verifies the stored token with the provider. An invalid token
// removes the connection and is reported in the body, not as an error.
func (h *ConnectionHandler) Health(c *gin.Context) {
	clientID := c.Param("client_id")

	report, err := h.connections.CheckHealth(c.Request.Context(), clientID)
	if err != nil && report == nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToHealthResponse(clientID, report))
}

func (h *ConnectionHandler) Profile(c *gin.Context) {
	profile, err := h.connections.Profile(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// Picture returns the cached profile-picture URL, refreshing it first when
// it has expired. A failed refresh falls back to the last known URL.
func (h *ConnectionHandler) Picture(c *gin.Context) {
	ctx := c.Request.Context()
	clientID := c.Param("client_id")

	cached, ok := h.cache.Get(clientID)
	if !ok {
		conn, err := h.connections.Get(ctx, clientID)
		if err != nil {
			respondError(c, err)
			return
		}
		if conn.ProfilePictureURL == "" {
			respondError(c, service.ErrNoProfilePicture)
			return
		}
		h.cache.Add(clientID, conn.ProfilePictureURL)
		c.JSON(http.StatusOK, dto.PictureResponse{ClientID: clientID, URL: conn.ProfilePictureURL})
		return
	}

	if !h.cache.IsExpired(clientID) {
		c.JSON(http.StatusOK, dto.PictureResponse{ClientID: clientID, URL: cached})
		return
	}

	if fresh, ok := h.cache.ForceRefresh(ctx, clientID); ok {
		c.JSON(http.StatusOK, dto.PictureResponse{ClientID: clientID, URL: fresh})
		return
	}
	c.JSON(http.StatusOK, dto.PictureResponse{ClientID: clientID, URL: cached, Stale: true})
}

func (h *ConnectionHandler) RefreshPicture(c *gin.Context) {
	clientID := c.Param("client_id")

	url, ok := h.cache.ForceRefresh(c.Request.Context(), clientID)
	if !ok {
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{
			Error: "The profile picture could not be refreshed right now. Please try again later.",
			Code:  "refresh_unavailable",
			Retry: true,
		})
		return
	}
	c.JSON(http.StatusOK, dto.PictureResponse{ClientID: clientID, URL: url})
}

// PictureFailed is reported by consumers whose image failed to render.
func (h *ConnectionHandler) PictureFailed(c *gin.Context) {
	clientID := c.Param("client_id")

	url, deferred := h.cache.ReportLoadFailure(c.Request.Context(), clientID)
	c.JSON(http.StatusOK, dto.PictureResponse{
		ClientID: clientID,
		URL:      url,
		Stale:    url == "" || deferred,
		Deferred: deferred,
	})
}

func (h *ConnectionHandler) PictureLoaded(c *gin.Context) {
	h.cache.ReportLoadSuccess(c.Param("client_id"))
	c.Status(http.StatusNoContent)
}

func (h *ConnectionHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}
