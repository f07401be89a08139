package middleware

import (
	"context"
	"log"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
)

// Logger logs each sync request (bootstrap, push, pull, reset) along with
// the authenticated account it was made on behalf of, so a slow or failing
// device can be traced from the server logs alone.
func Logger() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		path := string(ctx.Path())
		method := string(ctx.Method())
		requestID := GetRequestID(ctx)
		requestBytes := len(ctx.Request.Body())

		ctx.Next(c)

		latency := time.Since(start)
		statusCode := ctx.Response.StatusCode()
		clientIP := ctx.ClientIP()
		uid, _ := ctx.Get("user_id")
		if uid == nil {
			uid = "-"
		}

		log.Printf("[%s] user=%v %s %s %d %v in=%dB out=%dB %s",
			requestID,
			uid,
			method,
			path,
			statusCode,
			latency,
			requestBytes,
			len(ctx.Response.Body()),
			clientIP,
		)
	}
}
