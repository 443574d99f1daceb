package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"postdeck.app/connect/internal/http/dto"
	"postdeck.app/connect/internal/service/integration"
)

type SelectionHandler struct {
	instagram integration.InstagramService
}

func NewSelectionHandler(instagram integration.InstagramService) *SelectionHandler {
	return &SelectionHandler{instagram: instagram}
}

func (h *SelectionHandler) selection(c *gin.Context) (*integration.Selection, bool) {
	sel, err := h.instagram.Selection(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return sel, true
}

func (h *SelectionHandler) Get(c *gin.Context) {
	sel, ok := h.selection(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.ToSelectionResponse(sel.Snapshot()))
}

// Load fetches every candidate's profile. Calling it again after every
// candidate failed retries the fetch.
func (h *SelectionHandler) Load(c *gin.Context) {
	sel, ok := h.selection(c)
	if !ok {
		return
	}

	// Fetches outlive a dropped request; each Graph call has its own timeout.
	snap, err := sel.Load(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		status, body := errorResponse(err)
		c.JSON(status, gin.H{
			"error":     body.Error,
			"code":      body.Code,
			"retry":     body.Retry,
			"selection": dto.ToSelectionResponse(snap),
		})
		return
	}

	c.JSON(http.StatusOK, dto.ToSelectionResponse(snap))
}

func (h *SelectionHandler) Select(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: "invalid_request"})
		return
	}

	sel, ok := h.selection(c)
	if !ok {
		return
	}

	snap, err := sel.Select(context.WithoutCancel(ctx), req.PageID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToSelectionResponse(snap))
}

func (h *SelectionHandler) Cancel(c *gin.Context) {
	sel, ok := h.selection(c)
	if !ok {
		return
	}

	snap, err := sel.Cancel()
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToSelectionResponse(snap))
}
