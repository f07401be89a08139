package middleware

import (
	"context"
	"strconv"
	"strings"

	"github.com/listsync/listsync/server/config"
	"github.com/cloudwego/hertz/pkg/app"
)

// CORS allows browser-based devices (the web client, not the CLI/daemon
// devices that talk to the sync API directly) to call bootstrap/push/pull
// across origins, per the allow-list in cfg.
func CORS(cfg *config.CORSConfig) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		origin := string(ctx.Request.Header.Peek("Origin"))

		// Check if origin is allowed
		allowedOrigin := ""
		for _, allowed := range cfg.AllowedOrigins {
			if allowed == "*" || allowed == origin {
				allowedOrigin = origin
				break
			}
		}

		if allowedOrigin != "" {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", allowedOrigin)
		}

		if cfg.AllowCredentials {
			ctx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
		}

		// Handle preflight requests
		if string(ctx.Request.Method()) == "OPTIONS" {
			ctx.Response.Header.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
			ctx.Response.Header.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
			ctx.Response.Header.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
			ctx.AbortWithStatus(204)
			return
		}

		ctx.Next(c)
	}
}
