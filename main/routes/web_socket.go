package routes

import (
	"teamspace/auth"

	"github.com/gin-gonic/gin"
)

func SetupWebSocketRoutes(r *gin.Engine, h Handlers) {
	// Browsers cannot set headers on upgrades, so the token comes in the query.
	r.GET("/ws", auth.AuthMiddleware(h.Sessions), h.Hub.HandleSocket)
}
