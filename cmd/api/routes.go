package main

import (
	"callboard/internal/auth"
	"callboard/internal/httpapi"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h *httpapi.Handlers, authManager *auth.Manager) {
	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// PBX webhook (shared-secret gate lives in the handler; the box
	// cannot carry a bearer token).
	r.POST("/webhooks/pbx/call", h.Webhook)

	r.POST("/v1/auth/login", h.Login)

	// dashboard API, session required
	v1 := r.Group("/v1")
	v1.Use(auth.RequireSession(authManager))
	{
		calls := v1.Group("/calls")
		{
			calls.GET("/log", h.Log)
			calls.GET("/last", h.LastCall)
			calls.GET("/stream", h.StreamCalls)
		}
	}
}
