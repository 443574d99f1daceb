package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"postdeck.app/connect/internal/http/dto"
	"postdeck.app/connect/internal/service"
	"postdeck.app/connect/internal/service/integration"
	"postdeck.app/connect/internal/store"
)

// errorResponse maps a service error to its HTTP status and body.
func errorResponse(err error) (int, dto.ErrorResponse) {
	switch {
	case errors.Is(err, service.ErrTokenInvalid):
		return http.StatusUnauthorized, dto.ErrorResponse{
			Error: "The Instagram connection is no longer valid. Please reconnect the account.",
			Code:  "token_invalid",
		}
	case errors.Is(err, service.ErrInvalidConnection):
		return http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: "invalid_connection"}
	case errors.Is(err, service.ErrNoProfilePicture):
		return http.StatusNotFound, dto.ErrorResponse{
			Error: "This Instagram account has no profile picture.",
			Code:  "no_profile_picture",
		}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, dto.ErrorResponse{
			Error: "No Instagram account is connected for this client.",
			Code:  "not_found",
		}
	}

	code := integration.ErrorCode(err)
	body := dto.ErrorResponse{Error: integration.UserMessage(err), Code: code}

	switch code {
	case "auth_exchange_failed", "access_denied", "provider_error", "invalid_state", "candidate_not_found":
		return http.StatusBadRequest, body
	case "no_linked_pages", "no_business_account":
		return http.StatusUnprocessableEntity, body
	case "all_candidates_failed":
		body.Retry = true
		return http.StatusBadGateway, body
	case "cancelled", "selection_not_ready", "selection_closed":
		return http.StatusConflict, body
	case "not_found":
		return http.StatusNotFound, body
	case "commit_failed":
		body.Retry = true
		return http.StatusInternalServerError, body
	case "provider_unavailable":
		body.Retry = true
		return http.StatusBadGateway, body
	}

	return http.StatusInternalServerError, dto.ErrorResponse{
		Error: "Something went wrong. Please try again.",
		Code:  "internal_error",
		Retry: true,
	}
}

func respondError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "error", err, "code", body.Code)
	}
	_ = c.Error(err)
	c.JSON(status, body)
}
