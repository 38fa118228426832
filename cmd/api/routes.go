package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"interview-platform/internal/httpapi"
	"interview-platform/internal/rbac"
	"interview-platform/internal/signaling"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers, hub *signaling.Hub) {
	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The websocket carries its token in the query string; the same auth
	// middleware covers it.
	r.GET("/ws", authMW, signaling.ServeWS(hub))

	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireAnyRole(rbac.RoleProvider, rbac.RoleSeeker))
	{
		call := v1.Group("/applications/:id/call")
		{
			call.POST("/start", h.StartCall)
			call.POST("/accept", h.AcceptCall)
			call.POST("/reject", h.RejectCall)
			call.POST("/end", h.EndCall)
			call.GET("", h.GetCall)
		}

		chat := v1.Group("/applications/:id/chat")
		{
			chat.POST("/messages", h.SendChatMessage)
			chat.GET("/messages", h.FetchChatMessages)
		}

		v1.GET("/rtc/ice-servers", h.ICEServers)
	}
}
