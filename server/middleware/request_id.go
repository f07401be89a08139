package middleware

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// RequestID stamps every bootstrap/push/pull/reset call with a correlation
// ID, reusing one a device already sent (useful when a push is retried
// after a timeout and the caller wants the server-side logs to line up
// across attempts) or minting a fresh one otherwise.
func RequestID() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		requestID := string(ctx.Request.Header.Peek(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx.Response.Header.Set(RequestIDHeader, requestID)
		ctx.Set("request_id", requestID)
		ctx.Next(c)
	}
}

// GetRequestID retrieves the current request's correlation ID, or "" if
// the RequestID middleware hasn't run yet (e.g. inside a test handler).
func GetRequestID(ctx *app.RequestContext) string {
	if requestID, exists := ctx.Get("request_id"); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}
