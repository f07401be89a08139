package middleware

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/listsync/listsync/server/auth"
)

// Auth returns the bearer-token authentication middleware gating the
// sync endpoints to a single authenticated user's devices.
func Auth(jwtService *auth.JWTService) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		authHeader := string(ctx.Request.Header.Peek("Authorization"))
		if authHeader == "" {
			ctx.JSON(consts.StatusUnauthorized, map[string]interface{}{
				"error": "Authorization header required",
			})
			ctx.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			ctx.JSON(consts.StatusUnauthorized, map[string]interface{}{
				"error": "Invalid authorization header format",
			})
			ctx.Abort()
			return
		}

		token := parts[1]

		claims, err := jwtService.ValidateBearerToken(token)
		if err != nil {
			ctx.JSON(consts.StatusUnauthorized, map[string]interface{}{
				"error": "Invalid or expired token",
			})
			ctx.Abort()
			return
		}

		ctx.Set("user_id", claims.UserID)

		ctx.Next(c)
	}
}
