package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"postdeck.app/connect/common/logger"
)

// Logger writes one access line per request. Query strings are left out:
// the OAuth callback carries authorization codes in them.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		fields := logger.LogFields{Component: "connect.http"}
		if clientID := c.Param("client_id"); clientID != "" {
			fields.ClientID = logger.Ptr(clientID)
		}
		if selectionID := c.Param("id"); selectionID != "" {
			fields.SelectionID = logger.Ptr(selectionID)
		}
		c.Request = c.Request.WithContext(logger.WithLogFields(c.Request.Context(), fields))

		c.Next()

		status := c.Writer.Status()
		ctx := c.Request.Context()

		attrs := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.ErrorContext(ctx, "request failed", attrs...)
		case status >= 400:
			slog.WarnContext(ctx, "request error", attrs...)
		default:
			slog.InfoContext(ctx, "request", attrs...)
		}
	}
}
