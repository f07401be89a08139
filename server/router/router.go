package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"

	"github.com/listsync/listsync/server/auth"
	"github.com/listsync/listsync/server/config"
	"github.com/listsync/listsync/server/handler"
	"github.com/listsync/listsync/server/middleware"
)

// Dependencies holds the handlers Setup wires into routes.
type Dependencies struct {
	JWTService  *auth.JWTService
	SyncHandler *handler.SyncHandler
}

// Setup configures all routes and middleware.
func Setup(h *server.Hertz, cfg *config.Config, deps *Dependencies) {
	h.Use(middleware.Recovery())
	h.Use(middleware.RequestID())
	h.Use(middleware.Logger())
	h.Use(middleware.CORS(&cfg.CORS))

	h.GET("/health", healthCheck)
	h.GET("/readiness", readinessCheck)

	sync := h.Group("/sync")
	sync.Use(middleware.Auth(deps.JWTService))
	sync.GET("/bootstrap", deps.SyncHandler.Bootstrap)
	sync.POST("/push", deps.SyncHandler.Push)
	sync.GET("/pull", deps.SyncHandler.Pull)
	sync.POST("/reset", deps.SyncHandler.Reset)
}

func healthCheck(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "syncserver",
		"timestamp": time.Now().Unix(),
	})
}

func readinessCheck(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"service":   "syncserver",
		"timestamp": time.Now().Unix(),
	})
}
