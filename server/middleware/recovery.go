package middleware

import (
	"context"
	"log"
	"runtime/debug"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// Recovery recovers from panics raised while handling a sync request (a
// bootstrap, push, pull, or reset call) and turns them into a 500 response
// instead of tearing down the server.
func Recovery() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				requestID := GetRequestID(ctx)
				uid, _ := ctx.Get("user_id")
				stack := string(debug.Stack())

				log.Printf("[%s] PANIC user=%v %s %s: %v\n%s",
					requestID, uid, ctx.Method(), ctx.Path(), err, stack)

				// Devices treat a 500 on push/pull as transient: the sync
				// engine reports the error and tries again on its next poll
				// tick rather than discarding the generation it was working
				// against.
				ctx.JSON(consts.StatusInternalServerError, map[string]interface{}{
					"error":      "sync server failed to process the request",
					"request_id": requestID,
					"retryable":  true,
				})
				ctx.Abort()
			}
		}()

		ctx.Next(c)
	}
}
