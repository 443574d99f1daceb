package handler

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"postdeck.app/connect/internal/handoff"
	"postdeck.app/connect/internal/http/dto"
	"postdeck.app/connect/internal/service/integration"
)

type InstagramHandler struct {
	instagram    integration.InstagramService
	dashboardURL string
}

func NewInstagramHandler(instagram integration.InstagramService, dashboardURL string) *InstagramHandler {
	return &InstagramHandler{instagram: instagram, dashboardURL: dashboardURL}
}

func (h *InstagramHandler) Authorize(c *gin.Context) {
	ctx := c.Request.Context()
	clientID := c.Param("client_id")

	auth, err := h.instagram.BeginAuthorization(ctx, clientID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToAuthorizeResponse(auth))
}

// Callback is the OAuth redirect target. It always answers with a redirect
// back to the dashboard; the waiting surface learns the details via Wait.
func (h *InstagramHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	params := integration.CallbackParams{
		State:            c.Query("state"),
		Code:             c.Query("code"),
		Error:            c.Query("error"),
		ErrorReason:      c.Query("error_reason"),
		ErrorDescription: c.Query("error_description"),
	}

	result, err := h.instagram.HandleCallback(ctx, params)
	if err != nil {
		slog.WarnContext(ctx, "instagram callback failed", "error", err)
		outcome := handoff.Outcome{
			Status:    handoff.StatusFailed,
			ErrorCode: integration.ErrorCode(err),
		}
		if result != nil {
			outcome = result.Outcome
		}
		c.Redirect(http.StatusFound, h.redirectURL(params.State, outcome))
		return
	}

	c.Redirect(http.StatusFound, h.redirectURL(params.State, result.Outcome))
}

func (h *InstagramHandler) redirectURL(state string, outcome handoff.Outcome) string {
	q := url.Values{}
	q.Set("connect_status", string(outcome.Status))
	if state != "" {
		q.Set("state", state)
	}
	if outcome.ClientID != "" {
		q.Set("client_id", outcome.ClientID)
	}
	if outcome.SelectionID != "" {
		q.Set("selection_id", outcome.SelectionID)
	}
	if outcome.ErrorCode != "" {
		q.Set("error_code", outcome.ErrorCode)
	}
	return h.dashboardURL + "/integrations/instagram?" + q.Encode()
}

func (h *InstagramHandler) Exchange(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: "invalid_request"})
		return
	}

	result, err := h.instagram.HandleCallback(ctx, req.Params())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToCallbackResponse(result))
}

// Wait long-polls for the outcome published under the given state.
func (h *InstagramHandler) Wait(c *gin.Context) {
	ctx := c.Request.Context()

	outcome, err := h.instagram.Wait(ctx, c.Param("state"))
	if err != nil {
		if ctx.Err() != nil {
			// client went away
			c.Status(499)
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToOutcomeResponse(outcome))
}
