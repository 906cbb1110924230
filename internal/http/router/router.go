// Package router mounts the reasoning engine's gin routes. Grounded on the
// teacher's internal/http/router.SetupRoutes (health check first, then a
// versioned group per resource), trimmed to the single reasoning resource
// this engine exposes.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ontoreason.app/engine/internal/http/handler"
	"ontoreason.app/engine/internal/http/middleware"
)

// SetupRoutes mounts /health and the /api/v1/reasoning surface of spec.md §6.
func SetupRoutes(router *gin.Engine, h *handler.ReasoningHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1/reasoning")
	v1.Use(middleware.RequireTenant())
	{
		v1.POST("/sessions", h.CreateSession)
		v1.GET("/sessions/:id", h.GetSession)
		v1.POST("/sessions/:id/run", h.Run)
		v1.POST("/sessions/:id/clarify", h.Clarify)
		v1.GET("/sessions/:id/trace", h.ListTrace)
		v1.POST("/sessions/:id/cancel", h.Cancel)
	}
}
